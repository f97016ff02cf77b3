package main

import (
	"fmt"

	"github.com/tazhate/healthreminders/config"
	"github.com/tazhate/healthreminders/internal/calendar"
	"github.com/tazhate/healthreminders/internal/clients/caldav"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/service"
	"github.com/tazhate/healthreminders/internal/storage"
)

// app holds the services a single command invocation works with.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	store     *storage.Storage
	variables *service.VariableService
	queue     *service.NotificationQueue
	schedules *service.ScheduleManager
	calendar  *caldav.Client
}

// openApp loads config and opens the database. When CalDAV is configured
// schedule changes are mirrored synchronously, since there is no
// background worker in a one-shot command.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store}
	a.variables = service.NewVariableService(store, log)
	a.queue = service.NewNotificationQueue(store, service.SystemClock, log)
	a.schedules = service.NewScheduleManager(store, a.queue, a.variables, nil, service.SystemClock, log)

	if cfg.CalDAV.Enabled() {
		a.calendar = caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password)
		a.calendar.SetCalendarID(cfg.CalDAV.CalendarPath)
		a.schedules.SetAnnouncer(calendar.NewMirror(a.calendar, store, log))
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp opens the app for the duration of fn.
func withApp(fn func(a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
