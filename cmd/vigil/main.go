package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ewhitmore/vigil/internal/backup"
	"github.com/ewhitmore/vigil/internal/chat"
	"github.com/ewhitmore/vigil/internal/config"
	"github.com/ewhitmore/vigil/internal/database"
	"github.com/ewhitmore/vigil/internal/lifecycle"
	"github.com/ewhitmore/vigil/internal/logging"
	"github.com/ewhitmore/vigil/internal/meeting"
	"github.com/ewhitmore/vigil/internal/ops"
	"github.com/ewhitmore/vigil/internal/push"
	"github.com/ewhitmore/vigil/internal/reconcile"
	"github.com/ewhitmore/vigil/internal/reminder"
	"github.com/ewhitmore/vigil/internal/report"
	"github.com/ewhitmore/vigil/internal/scheduler"
	"github.com/ewhitmore/vigil/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	loc := cfg.Location()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	slots := store.NewSlotStore(db)
	attendance := store.NewAttendanceStore(db)
	sessions := store.NewSessionStore(db)
	prefs := store.NewPrefStore(db)
	backups := store.NewBackupStore(db)

	sender := chat.NewClient(cfg.ChatBotToken)
	if !sender.Configured() {
		logger.Warn("chat bot token not set, reminder delivery will fail until configured")
	}
	queue := reminder.NewQueue(sender, logger.With("component", "reminder"))

	provider := meeting.NewClient(cfg.Meeting, logger.With("component", "meeting"))
	lc := lifecycle.NewManager(slots, queue, logger.With("component", "lifecycle"))
	reconciler := reconcile.New(slots, attendance, sessions, prefs, lc, provider, loc,
		logger.With("component", "reconcile"))

	pusher := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
	reporter := report.NewReporter(attendance, slots, queue, cfg.CoordinatorChat, loc,
		logger.With("component", "report"))
	// The devotional source is an external integration; none wired yet.
	devotional := report.NewPoster(nil, queue, cfg.CommunityChannel, logger.With("component", "report"))

	sched := scheduler.New(cfg.Scheduler, reconciler, slots, prefs, queue, pusher,
		reporter, devotional, loc, logger.With("component", "scheduler"))

	backupMgr := backup.NewManager(cfg.Backup, db, backups, logger.With("component", "backup"))

	ctx := context.Background()
	queue.Start(ctx)
	sched.Start(ctx)
	backupMgr.Start(ctx)

	opsSrv := ops.NewServer(queue, sched, logger.With("component", "ops"))
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      opsSrv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("vigil running", "port", cfg.Port, "timezone", cfg.Timezone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	backupMgr.Stop()
	sched.Stop()
	queue.Stop()
}
