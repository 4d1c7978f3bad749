package prober

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"meshipam/internal/alerts"
	"meshipam/internal/audit"
	"meshipam/internal/db"
	"meshipam/internal/ledger"
	"meshipam/internal/models"
	"meshipam/internal/registry"
	"meshipam/internal/repo"
)

// fakePinger отвечает по таблице адресов; чего в таблице нет — таймаут.
type fakePinger struct {
	latency map[string]time.Duration
}

func (f *fakePinger) Ping(_ context.Context, address string) (time.Duration, error) {
	if d, ok := f.latency[address]; ok {
		return d, nil
	}
	return 0, errors.New("dial tcp: i/o timeout")
}

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

func newTestProber(t *testing.T, p Pinger) (*Prober, *gorm.DB) {
	t.Helper()
	g := openTestDB(t)
	engine := alerts.NewEngine(repo.NewAlertStore(g), 0)
	rec := audit.NewRecorder(repo.NewAuditStore(g))
	reg := registry.NewService(g, engine, rec)
	return New(g, reg, p, 2), g
}

func seedTarget(t *testing.T, g *gorm.DB, name, addr string) *models.Equipment {
	t.Helper()
	ctx := context.Background()
	e := &models.Equipment{UUID: name + "-uuid", Name: name, Status: models.EquipmentStatusUnknown}
	require.NoError(t, repo.NewEquipmentStore(g).Create(ctx, e))
	if addr != "" {
		ip := &models.IPAddress{Address: addr, Status: models.IPStatusAssigned}
		require.NoError(t, repo.NewIPStore(g).Create(ctx, ip))
		require.NoError(t, repo.NewIPStore(g).CreateAssignment(ctx, &models.IPAssignment{
			IPAddressID: ip.ID, EquipmentID: e.ID, IsActive: true, AssignedAt: time.Now().UTC(),
		}))
	}
	return e
}

func TestCycleProbesAllTargets(t *testing.T) {
	p, g := newTestProber(t, &fakePinger{latency: map[string]time.Duration{
		"10.0.0.1": 5 * time.Millisecond,
		"10.0.0.2": 90 * time.Millisecond,
		// 10.0.0.3 — таймаут
	}})
	ctx := context.Background()

	e1 := seedTarget(t, g, "EQ1", "10.0.0.1")
	e2 := seedTarget(t, g, "EQ2", "10.0.0.2")
	e3 := seedTarget(t, g, "EQ3", "10.0.0.3")
	e4 := seedTarget(t, g, "EQ4", "") // без адреса — пустой исход, принудительный OFFLINE

	results := p.Cycle(ctx)
	assert.Len(t, results, 4, "ошибка одной пробы не прерывает цикл")

	eqs := repo.NewEquipmentStore(g)
	for _, tc := range []struct {
		id       uint
		status   string
		strength int
	}{
		{e1.ID, models.EquipmentStatusOnline, 95},
		{e2.ID, models.EquipmentStatusOnline, 10},
		{e3.ID, models.EquipmentStatusOffline, 0},
		{e4.ID, models.EquipmentStatusOffline, 0},
	} {
		e, err := eqs.GetByID(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.status, e.Status, "equipment %d", tc.id)
		assert.Equal(t, tc.strength, e.MeshStrength, "equipment %d", tc.id)
	}
}

func TestCycleForcesOfflineAfterRelease(t *testing.T) {
	p, g := newTestProber(t, &fakePinger{latency: map[string]time.Duration{
		"10.0.0.1": 5 * time.Millisecond,
	}})
	ctx := context.Background()

	e := seedTarget(t, g, "EQ1", "")
	engine := alerts.NewEngine(repo.NewAlertStore(g), 0)
	led := ledger.NewService(g, engine, audit.NewRecorder(repo.NewAuditStore(g)), ledger.Defaults{})

	_, err := led.Assign(ctx, ledger.AssignInput{Address: "10.0.0.1", EquipmentID: e.ID, ActorID: "tester"})
	require.NoError(t, err)

	p.Cycle(ctx)
	got, err := repo.NewEquipmentStore(g).GetByID(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, models.EquipmentStatusOnline, got.Status)

	_, err = led.Release(ctx, ledger.ReleaseSelector{Address: "10.0.0.1", ActorID: "tester"})
	require.NoError(t, err)

	// адрес снят — следующий проход обязан навестить устройство и уронить его
	p.Cycle(ctx)
	got, err = repo.NewEquipmentStore(g).GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EquipmentStatusOffline, got.Status)
}

func TestProbeOne(t *testing.T) {
	p, g := newTestProber(t, &fakePinger{latency: map[string]time.Duration{
		"10.0.0.1": 5 * time.Millisecond,
	}})
	ctx := context.Background()

	e1 := seedTarget(t, g, "EQ1", "10.0.0.1")
	res, err := p.ProbeOne(ctx, e1.ID)
	require.NoError(t, err)
	assert.True(t, res.Reachable)
	assert.Equal(t, models.EquipmentStatusOnline, res.NewStatus)

	_, err = p.ProbeOne(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// deletingPinger сносит устройство во время звонка — так воспроизводится
// гонка «устройство удалили между выборкой и пробой».
type deletingPinger struct {
	g  *gorm.DB
	id uint
}

func (d *deletingPinger) Ping(ctx context.Context, _ string) (time.Duration, error) {
	d.g.WithContext(ctx).Delete(&models.Equipment{}, d.id)
	return time.Millisecond, nil
}

func TestProbeOnePropagatesStatusMachineError(t *testing.T) {
	pinger := &deletingPinger{}
	p, g := newTestProber(t, pinger)
	ctx := context.Background()

	e := seedTarget(t, g, "EQ1", "10.0.0.1")
	pinger.g, pinger.id = g, e.ID

	// ошибка машины статусов — не тихий no-op, она доходит до вызывающего
	res, err := p.ProbeOne(ctx, e.ID)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProbeOneWithoutAssignmentForcesOffline(t *testing.T) {
	p, g := newTestProber(t, &fakePinger{latency: map[string]time.Duration{}})
	ctx := context.Background()

	e := seedTarget(t, g, "EQ1", "")
	require.NoError(t, repo.NewEquipmentStore(g).UpdateStatus(ctx, e.ID, models.EquipmentStatusOnline, nil))

	res, err := p.ProbeOne(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EquipmentStatusOffline, res.NewStatus)
}

/* ───── планировщик ───── */

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

func TestSchedulerDrivesCycles(t *testing.T) {
	p, g := newTestProber(t, &fakePinger{latency: map[string]time.Duration{
		"10.0.0.1": 5 * time.Millisecond,
	}})
	e := seedTarget(t, g, "EQ1", "10.0.0.1")

	tick := &manualTicker{ch: make(chan time.Time)}
	s := NewScheduler(p, time.Minute)
	s.newTicker = func(time.Duration) Ticker { return tick }

	s.Start()
	s.Start() // идемпотентно

	tick.ch <- time.Now()
	require.Eventually(t, func() bool {
		got, err := repo.NewEquipmentStore(g).GetByID(context.Background(), e.ID)
		return err == nil && got.Status == models.EquipmentStatusOnline
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop() // no-op на остановленном
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	p, _ := newTestProber(t, &fakePinger{})
	s := NewScheduler(p, time.Minute)
	s.Stop() // не должен паниковать и виснуть
}
