package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fandirect/macbridge/internal/logging"
	"github.com/fandirect/macbridge/internal/metrics"
	"github.com/fandirect/macbridge/internal/tracing"
)

// Sender is the transport capability that actually delivers a message.
// Failure reasons are opaque; every failure is retryable up to the limit.
type Sender interface {
	Send(ctx context.Context, recipient, text, mediaPath string) error
}

// StatusSink mirrors pipeline state to the remote store. Updates are
// best-effort: a sink error is logged and never blocks the pipeline.
type StatusSink interface {
	UpdateOutboundStatus(ctx context.Context, id string, status Status, detail string) error
}

// MediaFetcher downloads remote media to a local scratch file before a send.
// cleanup removes the scratch file and must be safe to call on all paths.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (localPath string, cleanup func(), err error)
}

// Options configures a Queue. Zero values fall back to production defaults.
type Options struct {
	RateLimit     time.Duration
	MaxAttempts   int
	Backoff       []time.Duration
	CheckInterval time.Duration
	Clock         Clock
	Logger        *logging.Logger
}

// Queue holds pending and retrying outbound tasks and runs the single-flight
// delivery loop. At most one send attempt is in flight at any instant; the
// run loop is the only dispatcher and an inFlight flag guards re-entry.
type Queue struct {
	sender  Sender
	status  StatusSink
	media   MediaFetcher
	limiter *RateLimiter
	retry   *RetryScheduler
	clock   Clock
	check   time.Duration
	log     *logging.Logger

	mu       sync.Mutex
	fresh    []*Task // never-attempted tasks, FIFO by EnqueuedAt
	waiting  []*Task // failed tasks waiting out a backoff
	inFlight bool
	resident int

	kick chan struct{}
}

func New(sender Sender, status StatusSink, media MediaFetcher, opts Options) *Queue {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("delivery-queue")
	}
	return &Queue{
		sender:  sender,
		status:  status,
		media:   media,
		limiter: NewRateLimiter(opts.RateLimit),
		retry:   NewRetryScheduler(opts.MaxAttempts, opts.Backoff),
		clock:   opts.Clock,
		check:   opts.CheckInterval,
		log:     opts.Logger,
		kick:    make(chan struct{}, 1),
	}
}

// Enqueue admits a task with Attempts reset to zero and requests the
// remote "accepted" status. Admission rejects tasks with no recipient or
// with neither text nor media; the front door validates request shape, this
// is the queue's own invariant.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	t.Attempts = 0
	t.EnqueuedAt = q.clock.Now()
	t.NextEligibleAt = time.Time{}

	q.mu.Lock()
	q.fresh = append(q.fresh, &t)
	q.resident++
	q.mu.Unlock()
	metrics.QueueDepth.Inc()

	q.log.WithContext(ctx).WithMessageID(t.ID).WithRecipient(t.Recipient).Info("task enqueued")
	q.reportStatus(ctx, t.ID, StatusAccepted, "")
	q.wake()
	return nil
}

// Len reports the number of resident tasks, including one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resident
}

// Run drives the delivery loop until ctx is cancelled. An attempt already in
// flight finishes naturally; callers bound the total wait themselves.
func (q *Queue) Run(ctx context.Context) {
	for {
		task, wait := q.selectNext()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.kick:
			case <-q.clock.After(wait):
			}
			continue
		}
		q.attempt(ctx, task)
		if ctx.Err() != nil {
			return
		}
	}
}

// selectNext picks the next eligible task, preferring a ready retry over a
// fresh task and FIFO by EnqueuedAt within each class. When nothing is
// eligible it returns the duration to wait before checking again.
func (q *Queue) selectNext() (*Task, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight {
		return nil, q.check
	}
	if len(q.fresh) == 0 && len(q.waiting) == 0 {
		return nil, q.check
	}

	now := q.clock.Now()

	// Ready retries first.
	idx, from := -1, &q.waiting
	for i, t := range q.waiting {
		if t.NextEligibleAt.After(now) {
			continue
		}
		if idx == -1 || t.EnqueuedAt.Before(q.waiting[idx].EnqueuedAt) {
			idx = i
		}
	}
	if idx == -1 {
		from = &q.fresh
		for i, t := range q.fresh {
			if idx == -1 || t.EnqueuedAt.Before(q.fresh[idx].EnqueuedAt) {
				idx = i
			}
		}
	}
	if idx == -1 {
		// Everything is waiting out a backoff; sleep until the earliest one.
		var wait time.Duration
		for i, t := range q.waiting {
			d := t.NextEligibleAt.Sub(now)
			if i == 0 || d < wait {
				wait = d
			}
		}
		if wait <= 0 {
			wait = q.check
		}
		return nil, wait
	}

	if wait, ok := q.limiter.TryAcquire(now); !ok {
		return nil, wait
	}

	task := (*from)[idx]
	*from = append((*from)[:idx], (*from)[idx+1:]...)
	q.inFlight = true
	return task, 0
}

// attempt runs one send attempt end to end: optional media download, the
// transport call, and failure handling. The staged media copy is removed on
// every exit path.
func (q *Queue) attempt(ctx context.Context, t *Task) {
	defer func() {
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
	}()

	ctx, span := tracing.StartSpan(ctx, "queue.attempt",
		attribute.String("message_id", t.ID),
		attribute.String("recipient", t.Recipient),
		attribute.Int("attempt", t.Attempts+1),
	)
	defer span.End()

	log := q.log.WithContext(ctx).WithMessageID(t.ID).WithRecipient(t.Recipient)
	log.WithField("attempt", t.Attempts+1).Info("processing task")

	if t.Attempts > 0 {
		q.reportStatus(ctx, t.ID, StatusRetrying, fmt.Sprintf("retry attempt %d", t.Attempts+1))
	}

	mediaPath := ""
	if t.MediaRef != "" {
		if q.media == nil {
			q.handleFailure(ctx, t, fmt.Errorf("no media fetcher configured"))
			return
		}
		q.reportStatus(ctx, t.ID, StatusDownloadingMedia, "")
		tracing.AddSpanEvent(ctx, "media.download")
		path, cleanup, err := q.media.Fetch(ctx, t.MediaRef)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			q.handleFailure(ctx, t, fmt.Errorf("download media: %w", err))
			return
		}
		defer cleanup()
		mediaPath = path
	}

	q.reportStatus(ctx, t.ID, StatusSending, "")
	tracing.AddSpanEvent(ctx, "transport.send")
	start := q.clock.Now()
	err := q.sender.Send(ctx, t.Recipient, t.Text, mediaPath)
	metrics.SendDuration.Observe(q.clock.Now().Sub(start).Seconds())

	if err != nil {
		tracing.SetSpanError(ctx, err)
		metrics.SendAttemptsTotal.WithLabelValues("failed").Inc()
		q.handleFailure(ctx, t, err)
		return
	}

	metrics.SendAttemptsTotal.WithLabelValues("sent").Inc()
	metrics.QueueDepth.Dec()
	q.mu.Lock()
	q.resident--
	q.mu.Unlock()
	q.reportStatus(ctx, t.ID, StatusSent, "")
	q.log.WithContext(ctx).WithMessageID(t.ID).Info("task sent")
}

// handleFailure increments the attempt count and either re-inserts the task
// with its backoff applied or removes it terminally. EnqueuedAt is reset so
// FIFO order among retries reflects failure recency, not original admission.
func (q *Queue) handleFailure(ctx context.Context, t *Task, sendErr error) {
	n, dec := q.retry.OnFailure(t.Attempts)
	t.Attempts = n

	log := q.log.WithContext(ctx).WithMessageID(t.ID).WithError(sendErr)
	if dec.Terminal {
		metrics.TerminalFailuresTotal.Inc()
		metrics.QueueDepth.Dec()
		q.mu.Lock()
		q.resident--
		q.mu.Unlock()
		log.WithField("attempts", n).Error("task failed terminally")
		q.reportStatus(ctx, t.ID, StatusError, fmt.Sprintf("failed after %d attempts: %v", n, sendErr))
		return
	}

	now := q.clock.Now()
	t.EnqueuedAt = now
	t.NextEligibleAt = now.Add(dec.Delay)

	metrics.RetriesScheduledTotal.Inc()
	log.WithFields(map[string]any{"attempt": n, "delay": dec.Delay.String()}).Warn("send failed, retry scheduled")
	q.reportStatus(ctx, t.ID, StatusWaitingRetry, fmt.Sprintf("retry %d scheduled in %s: %v", n, dec.Delay, sendErr))

	q.mu.Lock()
	q.waiting = append(q.waiting, t)
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) reportStatus(ctx context.Context, id string, st Status, detail string) {
	if q.status == nil {
		return
	}
	if err := q.status.UpdateOutboundStatus(ctx, id, st, detail); err != nil {
		q.log.WithContext(ctx).WithMessageID(id).WithError(err).Warnf("status update to %s failed", st)
	}
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}
