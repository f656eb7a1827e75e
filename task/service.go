package task

import (
	"context"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/activity"
	"github.com/golemfactory/golem-go/agreement"
	"github.com/golemfactory/golem-go/api"
	"github.com/golemfactory/golem-go/build"
	"github.com/golemfactory/golem-go/events"
	"github.com/golemfactory/golem-go/metrics"

	"go.opencensus.io/stats"
)

// AgreementSource hands out exclusive agreements and takes them back.
// Implemented by the agreement pool.
type AgreementSource interface {
	Get(ctx context.Context) (*agreement.Agreement, error)
	Release(ctx context.Context, agreementID string, allowReuse bool) error
}

// PaymentAcceptor marks agreements as payable. Implemented by the
// payment service; calls are idempotent.
type PaymentAcceptor interface {
	AcceptPayments(agreementID string)
}

// Config holds task service tunables. Zero values are replaced with
// defaults.
type Config struct {
	// MaxParallelTasks bounds concurrently executing tasks.
	MaxParallelTasks int

	// TaskTimeout force-fails a single execution attempt that does not
	// settle in time.
	TaskTimeout time.Duration

	// QueuePollInterval is the idle wait between queue checks.
	QueuePollInterval time.Duration

	// ActivityReadyTimeout bounds activity startup (deploy + start).
	ActivityReadyTimeout time.Duration

	// ActivityStateInterval is the polling cadence for activity state.
	ActivityStateInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParallelTasks == 0 {
		c.MaxParallelTasks = 5
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.QueuePollInterval == 0 {
		c.QueuePollInterval = 100 * time.Millisecond
	}
	if c.ActivityReadyTimeout == 0 {
		c.ActivityReadyTimeout = time.Minute
	}
	if c.ActivityStateInterval == 0 {
		c.ActivityStateInterval = time.Second
	}
	return c
}

// Service drives tasks from the queue against pooled agreements, up to
// MaxParallelTasks at a time. Activities are created lazily per agreement
// and reused by subsequent tasks on the same agreement.
type Service struct {
	queue      *Queue
	pool       AgreementSource
	payments   PaymentAcceptor
	activityGw api.ActivityGateway
	storage    StorageProvider
	initWorker InitWorker
	bus        *events.Bus
	cfg        Config

	lk         sync.Mutex
	activities map[string]*activity.Activity // agreement id -> cached activity
	initDone   map[string]struct{}           // activity ids that ran init
	active     int

	slots chan struct{} // concurrency gate

	wg       sync.WaitGroup
	stopOnce sync.Once
	closing  chan struct{}
	closed   chan struct{}
}

func NewService(queue *Queue, pool AgreementSource, payments PaymentAcceptor, activityGw api.ActivityGateway, storage StorageProvider, initWorker InitWorker, bus *events.Bus, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		queue:      queue,
		pool:       pool,
		payments:   payments,
		activityGw: activityGw,
		storage:    storage,
		initWorker: initWorker,
		bus:        bus,
		cfg:        cfg,
		activities: map[string]*activity.Activity{},
		initDone:   map[string]struct{}{},
		slots:      make(chan struct{}, cfg.MaxParallelTasks),
		closing:    make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// Run executes the scheduling loop until Stop is called or ctx is done.
// Task executions are spawned without waiting for completion; the loop
// only blocks on the concurrency gate.
func (s *Service) Run(ctx context.Context) {
	defer close(s.closed)
	log.Debug("task service started")

	for {
		select {
		case <-s.closing:
			s.wg.Wait()
			return
		case <-ctx.Done():
			s.wg.Wait()
			return
		case s.slots <- struct{}{}:
		}

		t := s.queue.Get()
		if t == nil {
			<-s.slots
			timer := build.Clock.Timer(s.cfg.QueuePollInterval)
			select {
			case <-timer.C:
			case <-s.closing:
				timer.Stop()
				s.wg.Wait()
				return
			case <-ctx.Done():
				timer.Stop()
				s.wg.Wait()
				return
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.slots }()
			s.runTask(ctx, t)
		}()
	}
}

// Stop ends the scheduling loop and waits for in-flight tasks.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.closing) })
	select {
	case <-s.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Debug("task service stopped")
	return nil
}

func (s *Service) stopping() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *Service) runTask(ctx context.Context, t *Task) {
	t.Start()
	s.setActive(ctx, +1)
	defer s.setActive(ctx, -1)
	metrics.RecordInc(ctx, metrics.TasksStarted)

	agr, err := s.pool.Get(ctx)
	if err != nil {
		// Pool stopped or ctx cancelled: there is nothing to execute
		// against and no retry will be scheduled.
		t.Reject(xerrors.Errorf("no agreement available: %w", err))
		metrics.RecordInc(ctx, metrics.TasksRejected)
		s.bus.Publish(events.TaskRejected{ID: t.ID(), Reason: err.Error()})
		log.Warnw("task rejected, no agreement available", "task", t.ID(), "err", err)
		return
	}
	s.payments.AcceptPayments(agr.ID)
	defer s.payments.AcceptPayments(agr.ID) // idempotent; covers usage accrued during the run

	results, err := s.executeOnAgreement(ctx, t, agr)
	if err == nil {
		t.Complete(results)
		metrics.RecordInc(ctx, metrics.TasksCompleted)
		s.bus.Publish(events.TaskCompleted{ID: t.ID()})
		log.Debugw("task done", "task", t.ID(), "agreement", agr.ID)
		if rerr := s.pool.Release(ctx, agr.ID, true); rerr != nil {
			log.Warnw("releasing agreement for reuse failed", "agreement", agr.ID, "err", rerr)
		}
		return
	}

	t.Fail(err)
	if t.IsRetry() && !s.stopping() {
		metrics.RecordInc(ctx, metrics.TasksRetried)
		s.bus.Publish(events.TaskRetried{ID: t.ID(), Retries: t.Retries(), Reason: err.Error()})
		log.Warnw("task execution failed, retrying", "task", t.ID(), "retries", t.Retries(), "err", err)
		s.queue.AddToBegin(t)
		// The agreement may be fine; a fresh task will revalidate it.
		if rerr := s.pool.Release(ctx, agr.ID, true); rerr != nil {
			log.Warnw("releasing agreement for reuse failed", "agreement", agr.ID, "err", rerr)
		}
		return
	}

	if !t.IsRejected() {
		// service is stopping mid-retry; finish the task terminally
		t.Reject(err)
	}
	metrics.RecordInc(ctx, metrics.TasksRejected)
	s.bus.Publish(events.TaskRejected{ID: t.ID(), Reason: err.Error()})
	log.Errorw("task rejected", "task", t.ID(), "retries", t.Retries(), "err", err)
	s.teardown(ctx, agr.ID)
}

// executeOnAgreement resolves the agreement's activity, boots it on first
// use and invokes the worker under the task timeout.
func (s *Service) executeOnAgreement(ctx context.Context, t *Task, agr *agreement.Agreement) (interface{}, error) {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()

	act, err := s.activityFor(tctx, agr.ID)
	if err != nil {
		return nil, err
	}

	w := newWorkContext(act, agr.Provider, s.storage, s.initWorker, s.cfg.ActivityReadyTimeout, s.cfg.ActivityStateInterval)

	s.lk.Lock()
	_, initialized := s.initDone[act.ID]
	s.lk.Unlock()
	if !initialized {
		if err := w.before(tctx); err != nil {
			return nil, err
		}
		s.lk.Lock()
		s.initDone[act.ID] = struct{}{}
		s.lk.Unlock()
	}

	s.bus.Publish(events.TaskStarted{ID: t.ID(), AgreementID: agr.ID, ActivityID: act.ID})

	type outcome struct {
		results interface{}
		err     error
	}
	ret := make(chan outcome, 1)
	go func() {
		results, werr := t.Worker()(tctx, w, t.Data())
		ret <- outcome{results: results, err: werr}
	}()

	select {
	case out := <-ret:
		return out.results, out.err
	case <-tctx.Done():
		// The worker goroutine may still be running; it holds only the
		// work context and will observe the cancelled tctx on its next
		// command.
		if xerrors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Errorf("task %s timed out after %s", t.ID(), s.cfg.TaskTimeout)
		}
		return nil, tctx.Err()
	}
}

// activityFor returns the cached activity for an agreement, creating it
// on first use.
func (s *Service) activityFor(ctx context.Context, agreementID string) (*activity.Activity, error) {
	s.lk.Lock()
	act, ok := s.activities[agreementID]
	s.lk.Unlock()
	if ok {
		return act, nil
	}

	act, err := activity.Create(ctx, s.activityGw, s.bus, agreementID)
	if err != nil {
		return nil, err
	}
	s.lk.Lock()
	s.activities[agreementID] = act
	s.lk.Unlock()
	return act, nil
}

// teardown destroys a rejected task's activity and terminates its
// agreement so no future task inherits the broken context.
func (s *Service) teardown(ctx context.Context, agreementID string) {
	s.lk.Lock()
	act := s.activities[agreementID]
	delete(s.activities, agreementID)
	if act != nil {
		delete(s.initDone, act.ID)
	}
	s.lk.Unlock()

	if act != nil {
		if err := act.Stop(ctx); err != nil {
			log.Warnw("stopping activity failed", "activity", act.ID, "err", err)
		}
	}
	if err := s.pool.Release(ctx, agreementID, false); err != nil {
		log.Warnw("terminating agreement failed", "agreement", agreementID, "err", err)
	}
}

func (s *Service) setActive(ctx context.Context, delta int) {
	s.lk.Lock()
	s.active += delta
	n := s.active
	s.lk.Unlock()
	stats.Record(ctx, metrics.ActiveTasks.M(int64(n)))
}
