package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tazhate/healthreminders/config"
	"github.com/tazhate/healthreminders/internal/api"
	"github.com/tazhate/healthreminders/internal/bot"
	"github.com/tazhate/healthreminders/internal/calendar"
	"github.com/tazhate/healthreminders/internal/clients/caldav"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/scheduler"
	"github.com/tazhate/healthreminders/internal/service"
	"github.com/tazhate/healthreminders/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").WithError(err).Fatal("Failed to load config")
	}
	log := logger.New(cfg.LogLevel)

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("Failed to init storage")
	}
	defer store.Close()

	users := service.NewUserService(store, cfg.Timezone)
	variables := service.NewVariableService(store, log)
	queue := service.NewNotificationQueue(store, service.SystemClock, log)
	schedules := service.NewScheduleManager(store, queue, variables, nil, service.SystemClock, log)

	sched := scheduler.New(cfg, schedules, queue, log)

	handlers := []scheduler.JobHandler{{Name: "timer", Fn: sched.Arm}}
	if cfg.CalDAV.Enabled() {
		client := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password)
		client.SetCalendarID(cfg.CalDAV.CalendarPath)
		mirror := calendar.NewMirror(client, store, log)
		handlers = append(handlers, scheduler.JobHandler{Name: mirror.Name(), Fn: mirror.Sync})
		log.WithComponent("main").WithField("calendar", cfg.CalDAV.CalendarPath).Info("Calendar mirror enabled")
	}
	jobs := scheduler.NewJobQueue(cfg.JobQueueSize, cfg.OperationTimeout, log, handlers...)
	schedules.SetAnnouncer(jobs)

	server := api.New(cfg, users, variables, schedules, queue, log)
	server.SetHealthCheck(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if cfg.TelegramToken != "" {
		tgBot, err := bot.New(cfg, users, variables, schedules, queue, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to init bot")
		}
		sched.SetSender(tgBot)

		if cfg.WebhookURL != "" {
			if err := tgBot.SetupWebhook(); err != nil {
				log.WithError(err).Fatal("Failed to setup webhook")
			}
			server.Handle(tgBot.WebhookPath(), tgBot.WebhookHandler())
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tgBot.Poll(ctx)
			}()
		}
	} else {
		log.WithComponent("main").Warn("TELEGRAM_TOKEN not set, reminders are not delivered")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		jobs.Run(ctx)
	}()

	go func() {
		if err := sched.Start(ctx); err != nil {
			log.WithComponent("scheduler").WithError(err).Error("Scheduler error")
			cancel()
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithComponent("main").WithField("port", cfg.ServerPort).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithComponent("main").WithError(err).Error("HTTP server error")
			cancel()
		}
	}()

	log.WithComponent("main").Info("Health reminders started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.WithComponent("main").Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithComponent("main").WithError(err).Error("Error stopping HTTP server")
	}

	cancel()
	sched.Stop()
	wg.Wait()

	log.WithComponent("main").Info("Health reminders stopped")
}
