package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshipam/config"
	"meshipam/internal/alerts"
	"meshipam/internal/api"
	"meshipam/internal/audit"
	"meshipam/internal/conflict"
	"meshipam/internal/db"
	"meshipam/internal/health"
	"meshipam/internal/ledger"
	"meshipam/internal/logs"
	"meshipam/internal/middleware"
	"meshipam/internal/models"
	"meshipam/internal/prober"
	"meshipam/internal/registry"
	"meshipam/internal/repo"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	alertEngine *alerts.Engine
	scheduler   *prober.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d

	if err := a.db.AutoMigrate(
		&models.IPAddress{},
		&models.IPAssignment{},
		&models.Equipment{},
		&models.Alert{},
		&models.AuditLogEntry{},
	); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Сервисы ядра */
	ips := repo.NewIPStore(a.db)
	auditStore := repo.NewAuditStore(a.db)
	alertStore := repo.NewAlertStore(a.db)

	recorder := audit.NewRecorder(auditStore)
	a.alertEngine = alerts.NewEngine(alertStore, a.cfg.Alerts.QueueSize)

	led := ledger.NewService(a.db, a.alertEngine, recorder, ledger.Defaults{
		Subnet:  a.cfg.IPAM.DefaultSubnet,
		Gateway: a.cfg.IPAM.DefaultGateway,
		DNS:     a.cfg.IPAM.DefaultDNS,
	})
	det := conflict.NewDetector(a.db, recorder)
	reg := registry.NewService(a.db, a.alertEngine, recorder)

	pinger := prober.NewTCPPinger(a.cfg.Prober.Port, a.cfg.Prober.Timeout)
	prb := prober.New(a.db, reg, pinger, a.cfg.Prober.BatchSize)
	a.scheduler = prober.NewScheduler(prb, a.cfg.Prober.Interval)

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 5) Health + API */
	health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	api.RegisterRoutes(a.Router, api.NewHandler(led, det, reg, prb, a.alertEngine, ips, auditStore))

	/* (необязательно) вывести известные маршруты в лог при старте */
	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	/* фоновые контуры */
	a.alertEngine.Start()
	a.scheduler.Start()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	a.scheduler.Stop()
	a.alertEngine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}
