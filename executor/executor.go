package executor

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/agreement"
	"github.com/golemfactory/golem-go/api"
	"github.com/golemfactory/golem-go/build"
	"github.com/golemfactory/golem-go/events"
	"github.com/golemfactory/golem-go/market"
	"github.com/golemfactory/golem-go/payment"
	"github.com/golemfactory/golem-go/task"
)

var log = logging.Logger("golem/executor")

// PackageDescriptor resolves the payload to compute with (an image, a VM
// package) into demand properties and constraints. Resolution may hit the
// network, so it takes a context.
type PackageDescriptor interface {
	DemandDecoration(ctx context.Context) (api.DemandDescriptor, error)
}

// Options configures a task executor. Gateways and Package are required;
// everything else has a usable default.
type Options struct {
	Market     api.MarketGateway
	Agreements api.AgreementGateway
	Activities api.ActivityGateway
	Payments   api.PaymentGateway

	// Package describes what providers will run.
	Package PackageDescriptor

	// Storage serves file transfers between the requestor and provider
	// containers. Optional; without it upload and download commands fail.
	Storage task.StorageProvider

	// InitWorker runs once per activity before the first task worker.
	InitWorker task.InitWorker

	// Strategy scores and filters market proposals. Defaults to the
	// least-expensive strategy penalizing providers that rejected us.
	Strategy market.Strategy

	// Bus receives lifecycle events. Optional.
	Bus *events.Bus

	Budget         string
	SubnetTag      string
	PaymentDriver  string
	PaymentNetwork string

	MaxParallelTasks int
	MaxRetries       int
	TaskTimeout      time.Duration

	// Expiration is how far in the future the demand declares task
	// completion.
	Expiration time.Duration
}

// Executor owns the full requestor pipeline: allocations, demand
// negotiation, the agreement pool, the task service and payment
// reconciliation. Construct with New, call Start, submit work, then Stop.
type Executor struct {
	opts Options

	bus        *events.Bus
	queue      *task.Queue
	pool       *agreement.Pool
	negotiator *market.Negotiator
	payments   *payment.Service
	tasks      *task.Service

	eg        *errgroup.Group
	startedAt time.Time
	stopOnce  sync.Once
	stopErr   error
}

func New(opts Options) (*Executor, error) {
	if opts.Market == nil || opts.Agreements == nil || opts.Activities == nil || opts.Payments == nil {
		return nil, xerrors.New("all four daemon gateways are required")
	}
	if opts.Package == nil {
		return nil, xerrors.New("a package descriptor is required")
	}
	return &Executor{
		opts:  opts,
		bus:   opts.Bus,
		queue: task.NewQueue(),
	}, nil
}

// Start reserves the budget, publishes the demand and spins up the
// negotiation, task and payment services.
func (e *Executor) Start(ctx context.Context) error {
	e.startedAt = build.Clock.Now()

	e.payments = payment.NewService(e.opts.Payments, e.bus, payment.Config{
		Budget:  e.opts.Budget,
		Driver:  e.opts.PaymentDriver,
		Network: e.opts.PaymentNetwork,
	})
	allocations, err := e.payments.CreateAllocations(ctx)
	if err != nil {
		return xerrors.Errorf("creating allocations: %w", err)
	}

	e.pool = agreement.NewPool(e.opts.Agreements, e.bus, agreement.Config{})

	strategy := e.opts.Strategy
	if strategy == nil {
		strategy = market.DefaultStrategy(e.pool)
	}

	demand, err := e.buildDemand(ctx, allocations, strategy)
	if err != nil {
		return xerrors.Errorf("building demand: %w", err)
	}

	e.negotiator = market.NewNegotiator(e.opts.Market, e.pool, strategy, e.bus, market.Config{
		SubnetTag:  e.opts.SubnetTag,
		Expiration: e.opts.Expiration,
	})
	if err := e.negotiator.Start(ctx, demand, e.payments.Platforms()); err != nil {
		return xerrors.Errorf("starting negotiator: %w", err)
	}

	e.tasks = task.NewService(e.queue, e.pool, e.payments, e.opts.Activities, e.opts.Storage, e.opts.InitWorker, e.bus, task.Config{
		MaxParallelTasks: e.opts.MaxParallelTasks,
		TaskTimeout:      e.opts.TaskTimeout,
	})

	e.eg, _ = errgroup.WithContext(ctx)
	e.eg.Go(func() error {
		e.tasks.Run(ctx)
		return nil
	})
	e.payments.Run(ctx)

	log.Infow("executor started", "subnet", e.opts.SubnetTag, "budget", e.opts.Budget)
	return nil
}

// buildDemand assembles the demand descriptor from the package, the
// allocations and the scoring strategy.
func (e *Executor) buildDemand(ctx context.Context, allocations []*payment.Allocation, strategy market.Strategy) (api.DemandDescriptor, error) {
	b := market.NewDemandBuilder()
	b.AddProperty(market.PropMultiActivity, true)

	pkg, err := e.opts.Package.DemandDecoration(ctx)
	if err != nil {
		return api.DemandDescriptor{}, xerrors.Errorf("resolving package: %w", err)
	}
	b.AddDecoration(pkg)

	for _, a := range allocations {
		dec, err := a.DemandDecoration(ctx)
		if err != nil {
			return api.DemandDescriptor{}, xerrors.Errorf("decorating demand with allocation %s: %w", a.ID, err)
		}
		b.AddDecoration(dec)
	}

	strategy.DecorateDemand(b)
	return b.Build(), nil
}

// Submit enqueues one task and returns it immediately. The caller awaits
// the outcome with Task.Wait.
func (e *Executor) Submit(worker task.Worker, data interface{}) *task.Task {
	var opts []task.Option
	if e.opts.MaxRetries > 0 {
		opts = append(opts, task.WithMaxRetries(e.opts.MaxRetries))
	}
	t := task.New(worker, data, opts...)
	e.queue.AddToEnd(t)
	return t
}

// Run executes a single task and waits for its result.
func (e *Executor) Run(ctx context.Context, worker task.Worker) (interface{}, error) {
	return e.Submit(worker, nil).Wait(ctx)
}

// Map runs the worker once per input and returns the results in input
// order. The first task rejection fails the whole call, but the remaining
// tasks still run to completion or rejection.
func (e *Executor) Map(ctx context.Context, worker task.Worker, inputs []interface{}) ([]interface{}, error) {
	tasks := make([]*task.Task, len(inputs))
	for i, data := range inputs {
		tasks[i] = e.Submit(worker, data)
	}

	results := make([]interface{}, len(inputs))
	var g errgroup.Group
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			r, err := t.Wait(ctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ForEach runs the worker once per input, discarding results.
func (e *Executor) ForEach(ctx context.Context, worker task.Worker, inputs []interface{}) error {
	_, err := e.Map(ctx, worker, inputs)
	return err
}

// Stop winds the pipeline down: withdraws the demand, drains the task
// service, terminates pooled agreements, settles outstanding claims and
// releases allocations. Safe to call more than once.
func (e *Executor) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		var merr *multierror.Error

		if e.negotiator != nil {
			if err := e.negotiator.Stop(ctx); err != nil {
				merr = multierror.Append(merr, xerrors.Errorf("stopping negotiator: %w", err))
			}
		}
		if e.tasks != nil {
			if err := e.tasks.Stop(ctx); err != nil {
				merr = multierror.Append(merr, xerrors.Errorf("stopping task service: %w", err))
			}
		}
		if e.eg != nil {
			_ = e.eg.Wait()
		}
		if e.pool != nil {
			e.pool.Stop(ctx, "Computation finished")
		}
		if e.payments != nil {
			if err := e.payments.Stop(ctx); err != nil {
				merr = multierror.Append(merr, xerrors.Errorf("stopping payments: %w", err))
			}
		}

		finishedAt := build.Clock.Now()
		e.bus.Publish(events.ComputationFinished{StartedAt: e.startedAt, FinishedAt: finishedAt})
		log.Infow("executor stopped", "elapsed", finishedAt.Sub(e.startedAt))
		e.stopErr = merr.ErrorOrNil()
	})
	return e.stopErr
}
