package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tazhate/healthreminders/internal/domain"
	"github.com/tazhate/healthreminders/internal/logger"
	"github.com/tazhate/healthreminders/internal/metrics"
)

// ErrQueueFull is returned by Announce when the job buffer is exhausted.
var ErrQueueFull = errors.New("job queue full")

// JobHandler reacts to a schedule mutation in the background.
type JobHandler struct {
	Name string
	Fn   func(ctx context.Context, sc *domain.Schedule) error
}

type job struct {
	id       string
	schedule domain.Schedule
}

// JobQueue fans schedule mutations out to background handlers. Announce
// never blocks the caller: it copies the schedule into a bounded buffer
// and returns.
type JobQueue struct {
	jobs     chan job
	handlers []JobHandler
	timeout  time.Duration
	log      *logger.Logger
	wg       sync.WaitGroup
}

// NewJobQueue creates a queue whose Run must be called exactly once.
func NewJobQueue(size int, timeout time.Duration, log *logger.Logger, handlers ...JobHandler) *JobQueue {
	q := &JobQueue{
		jobs:     make(chan job, size),
		handlers: handlers,
		timeout:  timeout,
		log:      log,
	}
	q.wg.Add(1)
	return q
}

func (q *JobQueue) Name() string { return "job-queue" }

func (q *JobQueue) Announce(_ context.Context, sc *domain.Schedule) error {
	j := job{id: uuid.NewString(), schedule: *sc}
	if sc.NextTriggerAt != nil {
		next := *sc.NextTriggerAt
		j.schedule.NextTriggerAt = &next
	}

	select {
	case q.jobs <- j:
		metrics.JobQueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes jobs until ctx is cancelled, then drains what is buffered.
func (q *JobQueue) Run(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case j := <-q.jobs:
			q.process(ctx, j)
		case <-ctx.Done():
			for {
				select {
				case j := <-q.jobs:
					q.process(context.Background(), j)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned, even if Run has not started yet.
func (q *JobQueue) Wait() {
	q.wg.Wait()
}

func (q *JobQueue) process(ctx context.Context, j job) {
	metrics.JobQueueDepth.Set(float64(len(q.jobs)))

	for _, h := range q.handlers {
		hctx, cancel := context.WithTimeout(ctx, q.timeout)
		err := h.Fn(hctx, &j.schedule)
		cancel()
		if err != nil {
			metrics.TrackAnnounceFailure(h.Name)
			q.log.WithSchedule(j.schedule.ID, j.schedule.UserID).WithFields(map[string]interface{}{
				"job_id":  j.id,
				"handler": h.Name,
			}).WithError(err).Warn("Job handler failed")
		}
	}
}
