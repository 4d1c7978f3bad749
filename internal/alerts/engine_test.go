package alerts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"meshipam/internal/db"
	"meshipam/internal/models"
	"meshipam/internal/repo"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	g, err := db.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, g.AutoMigrate(&models.Alert{}))
	return g
}

func TestRaiseUsesTaxonomyDefaults(t *testing.T) {
	g := openTestDB(t)
	e := NewEngine(repo.NewAlertStore(g), 0)
	ctx := context.Background()

	e.Raise(ctx, RaiseInput{Type: models.AlertIPConflict, Message: "duplicate holders"})
	e.Raise(ctx, RaiseInput{Type: "SOMETHING_NEW", Message: "unknown type"})
	e.Raise(ctx, RaiseInput{Type: models.AlertSystemError, Severity: models.SeverityWarning})

	list, err := e.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)

	bySeverity := map[string]string{}
	for _, a := range list {
		bySeverity[a.Type] = a.Severity
		assert.Equal(t, models.AlertStatusPending, a.Status)
	}
	assert.Equal(t, models.SeverityCritical, bySeverity[models.AlertIPConflict])
	assert.Equal(t, models.SeverityInfo, bySeverity["SOMETHING_NEW"])
	// явная серьёзность важнее дефолта
	assert.Equal(t, models.SeverityWarning, bySeverity[models.AlertSystemError])
}

func TestDetailsStoredAsJSON(t *testing.T) {
	g := openTestDB(t)
	e := NewEngine(repo.NewAlertStore(g), 0)
	ctx := context.Background()

	e.Raise(ctx, RaiseInput{
		Type:    models.AlertIPConflict,
		Message: "duplicate holders",
		Details: map[string]any{"address": "10.0.0.5", "holders": float64(2)},
	})

	list, err := e.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// колонка JSON-типизирована: значение читается обратно как документ
	var got map[string]any
	require.NoError(t, json.Unmarshal(list[0].Details, &got))
	assert.Equal(t, "10.0.0.5", got["address"])
	assert.Equal(t, float64(2), got["holders"])
}

func TestDedupHoldsOnePendingPerEquipment(t *testing.T) {
	g := openTestDB(t)
	e := NewEngine(repo.NewAlertStore(g), 0)
	ctx := context.Background()
	eqID := uint(7)

	for i := 0; i < 3; i++ {
		e.Raise(ctx, RaiseInput{Type: models.AlertEquipmentOffline, EquipmentID: &eqID})
	}
	list, err := e.List(ctx, models.AlertStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// после закрытия условие может подняться заново
	require.NoError(t, e.Resolve(ctx, list[0].ID, "admin"))
	e.Raise(ctx, RaiseInput{Type: models.AlertEquipmentOffline, EquipmentID: &eqID})

	list, err = e.List(ctx, models.AlertStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	all, err := e.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestResolveLifecycle(t *testing.T) {
	g := openTestDB(t)
	e := NewEngine(repo.NewAlertStore(g), 0)
	ctx := context.Background()

	a, err := e.CreateSync(ctx, RaiseInput{Type: models.AlertMaintenanceRequired})
	require.NoError(t, err)

	require.NoError(t, e.Resolve(ctx, a.ID, "admin"))
	got, err := repo.NewAlertStore(g).GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, got.Status)
	assert.Equal(t, "admin", got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	// повторное закрытие — NotFound, не тихий успех
	assert.ErrorIs(t, e.Resolve(ctx, a.ID, "admin"), repo.ErrAlertNotFound)
	assert.ErrorIs(t, e.Resolve(ctx, 999, "admin"), repo.ErrAlertNotFound)
}

func TestAutoResolveClosesMatchingPending(t *testing.T) {
	g := openTestDB(t)
	e := NewEngine(repo.NewAlertStore(g), 0)
	ctx := context.Background()
	eqID := uint(3)
	otherID := uint(4)

	e.Raise(ctx, RaiseInput{Type: models.AlertEquipmentOffline, EquipmentID: &eqID})
	e.Raise(ctx, RaiseInput{Type: models.AlertEquipmentOffline, EquipmentID: &otherID})

	e.AutoResolve(ctx, models.AlertEquipmentOffline, eqID)

	pending, err := e.List(ctx, models.AlertStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, otherID, *pending[0].EquipmentID)
}

func TestAsyncQueueDelivers(t *testing.T) {
	g := openTestDB(t)
	e := NewEngine(repo.NewAlertStore(g), 8)
	e.Start()
	ctx := context.Background()

	e.Raise(ctx, RaiseInput{Type: models.AlertConfigChanged})
	require.Eventually(t, func() bool {
		list, err := e.List(ctx, "", 0)
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	e.Close()
	e.Close() // повторный Close безопасен
}
