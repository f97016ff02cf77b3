package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tazhate/healthreminders/config"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/metrics"
	"github.com/tazhate/healthreminders/internal/service"
)

const deliveryBatch = 100

// MessageSender delivers a due notification to a chat.
type MessageSender interface {
	SendReminder(chatID int64, n *domain.DueNotification) error
}

// Scheduler drives time: it advances due schedules, delivers due
// notifications and periodically reconciles the instance queue.
type Scheduler struct {
	cron      *cron.Cron
	cfg       *config.Config
	schedules *service.ScheduleManager
	queue     *service.NotificationQueue
	sender    MessageSender
	clock     service.Clock
	log       *logger.Logger

	mu     sync.Mutex
	timers map[int64]*time.Timer
	tickMu sync.Mutex
}

func New(cfg *config.Config, schedules *service.ScheduleManager, queue *service.NotificationQueue, log *logger.Logger) *Scheduler {
	c := cron.New(cron.WithLocation(cfg.Timezone))

	return &Scheduler{
		cron:      c,
		cfg:       cfg,
		schedules: schedules,
		queue:     queue,
		clock:     service.SystemClock,
		log:       log,
		timers:    make(map[int64]*time.Timer),
	}
}

func (s *Scheduler) SetSender(sender MessageSender) {
	s.sender = sender
}

// Start registers the periodic jobs and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.AdvanceSpec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("add advance job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSpec, func() { s.reconcile(ctx) }); err != nil {
		return fmt.Errorf("add reconcile job: %w", err)
	}

	// Catch up on anything that fell due while the process was down.
	s.reconcile(ctx)
	s.Tick(ctx)

	s.cron.Start()
	s.log.WithComponent("scheduler").WithFields(map[string]interface{}{
		"timezone":  s.cfg.Timezone.String(),
		"advance":   s.cfg.AdvanceSpec,
		"reconcile": s.cfg.ReconcileSpec,
	}).Info("Scheduler started")

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.log.WithComponent("scheduler").Info("Scheduler stopped")
}

// Tick advances every due schedule and then delivers due notifications.
// Concurrent ticks are serialized.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.clock()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	n, err := s.schedules.AdvanceDue(ctx, now)
	if err != nil {
		s.log.WithComponent("scheduler").WithError(err).Error("Advance due schedules failed")
	}
	if n > 0 {
		s.log.WithComponent("scheduler").WithField("advanced", n).Debug("Advanced due schedules")
	}

	s.deliver(ctx, now)
}

func (s *Scheduler) deliver(ctx context.Context, now time.Time) {
	if s.sender == nil {
		return
	}

	due, err := s.queue.ListUndelivered(ctx, now, deliveryBatch)
	if err != nil {
		s.log.WithComponent("scheduler").WithError(err).Error("List undelivered notifications failed")
		return
	}

	for _, n := range due {
		entry := s.log.WithComponent("scheduler").WithField("instance_id", n.Instance.ID)
		if n.TelegramID == 0 {
			// No delivery channel; the owner sees it through the due list.
			if err := s.queue.MarkDelivered(ctx, n.Instance.ID); err != nil {
				entry.WithError(err).Warn("Mark delivered failed")
			}
			continue
		}

		err := s.sender.SendReminder(n.TelegramID, n)
		metrics.TrackDelivery(err)
		if err != nil {
			entry.WithError(err).Warn("Send reminder failed")
			continue
		}
		if err := s.queue.MarkDelivered(ctx, n.Instance.ID); err != nil {
			entry.WithError(err).Warn("Mark delivered failed")
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	report, err := s.schedules.Reconcile(ctx, s.clock())
	entry := s.log.WithComponent("scheduler").WithFields(map[string]interface{}{
		"checked":  report.Checked,
		"repaired": report.Repaired,
	})
	if err != nil {
		entry.WithError(err).Error("Reconcile failed")
		return
	}
	if report.Repaired > 0 {
		entry.Warn("Reconcile repaired schedules")
	}
}

// Arm sets a one-shot timer for the schedule's next trigger so it fires
// on time instead of waiting for the next periodic tick. Inactive
// schedules have their timer removed.
func (s *Scheduler) Arm(ctx context.Context, sc *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sc.ID]; ok {
		t.Stop()
		delete(s.timers, sc.ID)
	}
	if !sc.IsActive || sc.NextTriggerAt == nil {
		return nil
	}

	delay := sc.NextTriggerAt.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}
	id := sc.ID
	// The timer outlives the job that armed it, so it does not take ctx.
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.Tick(context.Background())
	})
	return nil
}

// Armed reports how many schedule timers are pending.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
