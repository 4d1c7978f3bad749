package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"meshipam/internal/audit"
	"meshipam/internal/db"
	"meshipam/internal/models"
	"meshipam/internal/repo"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	g, err := db.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, g.AutoMigrate(
		&models.IPAddress{}, &models.IPAssignment{}, &models.Equipment{},
		&models.Alert{}, &models.AuditLogEntry{},
	))
	return g
}

func newDetector(t *testing.T) (*Detector, *gorm.DB) {
	t.Helper()
	g := openTestDB(t)
	return NewDetector(g, audit.NewRecorder(repo.NewAuditStore(g))), g
}

func seedIP(t *testing.T, g *gorm.DB, addr, status string) *models.IPAddress {
	t.Helper()
	ip := &models.IPAddress{Address: addr, Status: status}
	require.NoError(t, repo.NewIPStore(g).Create(context.Background(), ip))
	return ip
}

func seedEquipment(t *testing.T, g *gorm.DB, name string) *models.Equipment {
	t.Helper()
	e := &models.Equipment{UUID: name + "-uuid", Name: name, Status: models.EquipmentStatusOnline}
	require.NoError(t, repo.NewEquipmentStore(g).Create(context.Background(), e))
	return e
}

func seedAssignment(t *testing.T, g *gorm.DB, ipID, eqID uint, at time.Time) *models.IPAssignment {
	t.Helper()
	a := &models.IPAssignment{IPAddressID: ipID, EquipmentID: eqID, IsActive: true, AssignedAt: at}
	require.NoError(t, repo.NewIPStore(g).CreateAssignment(context.Background(), a))
	return a
}

func TestScanCategoriesAndScore(t *testing.T) {
	d, g := newDetector(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	eq1 := seedEquipment(t, g, "EQ1")
	eq2 := seedEquipment(t, g, "EQ2")

	// настоящий конфликт: два активных держателя одного адреса
	conflicted := seedIP(t, g, "10.0.0.9", models.IPStatusAssigned)
	seedAssignment(t, g, conflicted.ID, eq1.ID, t0)
	seedAssignment(t, g, conflicted.ID, eq2.ID, t0.Add(time.Minute))

	// сирота: ASSIGNED без активных привязок
	seedIP(t, g, "10.0.0.20", models.IPStatusAssigned)

	// дубль по оборудованию: EQ1 держит второй адрес
	second := seedIP(t, g, "10.0.0.30", models.IPStatusAssigned)
	seedAssignment(t, g, second.ID, eq1.ID, t0.Add(2*time.Minute))

	rep, err := d.Scan(ctx)
	require.NoError(t, err)

	require.Len(t, rep.Conflicts, 1)
	assert.Equal(t, "10.0.0.9", rep.Conflicts[0].Address)
	require.Len(t, rep.Conflicts[0].Holders, 2)
	// держатели по возрастанию assigned_at
	assert.Equal(t, "EQ1", rep.Conflicts[0].Holders[0].EquipmentName)
	assert.Equal(t, "EQ2", rep.Conflicts[0].Holders[1].EquipmentName)

	require.Len(t, rep.OrphanedIPs, 1)
	assert.Equal(t, "10.0.0.20", rep.OrphanedIPs[0].Address)

	require.Len(t, rep.DuplicateEquipment, 1)
	assert.Equal(t, eq1.ID, rep.DuplicateEquipment[0].EquipmentID)
	assert.Equal(t, []string{"10.0.0.30", "10.0.0.9"}, rep.DuplicateEquipment[0].Addresses)

	// 100 - 15*1 - 5*1
	assert.Equal(t, 80, rep.HealthScore)
}

func TestScanHealthScoreFloor(t *testing.T) {
	d, g := newDetector(t)
	t0 := time.Now().UTC()
	for i := 0; i < 8; i++ {
		eqA := seedEquipment(t, g, "A"+string(rune('a'+i)))
		eqB := seedEquipment(t, g, "B"+string(rune('a'+i)))
		ip := seedIP(t, g, "10.1.0."+string(rune('1'+i)), models.IPStatusAssigned)
		seedAssignment(t, g, ip.ID, eqA.ID, t0)
		seedAssignment(t, g, ip.ID, eqB.ID, t0.Add(time.Second))
	}
	rep, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.HealthScore)
}

func TestResolveKeepsChosenHolder(t *testing.T) {
	d, g := newDetector(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	eq1 := seedEquipment(t, g, "EQ1")
	eq2 := seedEquipment(t, g, "EQ2")
	ip := seedIP(t, g, "10.0.0.9", models.IPStatusAssigned)
	a1 := seedAssignment(t, g, ip.ID, eq1.ID, t0)
	a2 := seedAssignment(t, g, ip.ID, eq2.ID, t0.Add(time.Minute))

	require.NoError(t, d.Resolve(ctx, "10.0.0.9", a1.ID, "admin"))

	active, err := repo.NewIPStore(g).ActiveForIP(ctx, ip.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a1.ID, active[0].ID)

	// по одной записи аудита на каждую погашенную привязку
	entries, err := repo.NewAuditStore(g).ListByAction(ctx, models.AuditIPConflictResolved, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].Details), `"kept_assignment"`)
	_ = a2
}

func TestResolveUnknownKeepIsNotFound(t *testing.T) {
	d, g := newDetector(t)
	ctx := context.Background()
	eq := seedEquipment(t, g, "EQ1")
	ip := seedIP(t, g, "10.0.0.9", models.IPStatusAssigned)
	seedAssignment(t, g, ip.ID, eq.ID, time.Now().UTC())

	err := d.Resolve(ctx, "10.0.0.9", 777, "admin")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = d.Resolve(ctx, "10.0.0.99", 1, "admin")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAutoResolvePrefersEarliest(t *testing.T) {
	d, g := newDetector(t)
	ctx := context.Background()
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	eq1 := seedEquipment(t, g, "EQ1")
	eq2 := seedEquipment(t, g, "EQ2")
	ip := seedIP(t, g, "10.0.0.9", models.IPStatusAssigned)
	a2 := seedAssignment(t, g, ip.ID, eq2.ID, t0.Add(time.Minute))
	a1 := seedAssignment(t, g, ip.ID, eq1.ID, t0) // ранний, но создан вторым

	kept, err := d.AutoResolve(ctx, "10.0.0.9", "system")
	require.NoError(t, err)
	assert.Equal(t, a1.ID, kept)

	active, err := repo.NewIPStore(g).ActiveForIP(ctx, ip.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a1.ID, active[0].ID)
	_ = a2
}

func TestFixOrphaned(t *testing.T) {
	d, g := newDetector(t)
	ctx := context.Background()
	seedIP(t, g, "10.0.0.40", models.IPStatusAssigned)

	require.NoError(t, d.FixOrphaned(ctx, "10.0.0.40", "admin"))

	ip, err := repo.NewIPStore(g).GetByAddress(ctx, "10.0.0.40")
	require.NoError(t, err)
	assert.Equal(t, models.IPStatusAvailable, ip.Status)

	assert.ErrorIs(t, d.FixOrphaned(ctx, "10.0.0.41", "admin"), models.ErrNotFound)
}
