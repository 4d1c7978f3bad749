package prober

import (
	"context"
	"sync"
	"time"

	"meshipam/internal/logs"
)

// Ticker — абстракция таймера, чтобы тесты могли крутить циклы вручную.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// Scheduler запускает Cycle по фиксированному интервалу, независимо от
// обслуживания запросов. Start идемпотентен, Stop на незапущенном —
// no-op. Летящую пробу Stop не отменяет: она доживает свой таймаут.
type Scheduler struct {
	prober    *Prober
	interval  time.Duration
	newTicker func(time.Duration) Ticker

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewScheduler(p *Prober, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		prober:    p,
		interval:  interval,
		newTicker: func(d time.Duration) Ticker { return &realTicker{t: time.NewTicker(d)} },
	}
}

// Start запускает фоновый цикл. Повторный Start — no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	logs.Logger.Infof("prober: scheduler started, interval %s", s.interval)
}

// Stop останавливает расписание и ждёт завершения текущего цикла.
// Stop на незапущенном планировщике — no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	logs.Logger.Info("prober: scheduler stopped")
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := s.newTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C():
			results := s.prober.Cycle(context.Background())
			if len(results) > 0 {
				logs.Logger.Debugf("prober: cycle done, %d probed", len(results))
			}
		case <-stop:
			return
		}
	}
}
