package agreement

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
	"github.com/golemfactory/golem-go/build"
	"github.com/golemfactory/golem-go/events"
	"github.com/golemfactory/golem-go/metrics"
)

// ErrPoolStopped is returned from Get once the pool is shut down.
var ErrPoolStopped = xerrors.New("agreement pool stopped")

// Config holds pool tunables. Zero values are replaced with defaults.
type Config struct {
	// ApprovalTimeout bounds the wait for a provider to approve a
	// confirmed agreement.
	ApprovalTimeout time.Duration

	// Validity is how long new agreements are declared valid for.
	Validity time.Duration

	// NoOffersWarnAfter is the diagnostic window: if Get has been
	// waiting with an empty pool for longer than this since pool start,
	// a "no offers" warning is logged once.
	NoOffersWarnAfter time.Duration

	// RecheckInterval bounds how long a Get waits between availability
	// checks when no wakeup signal arrives.
	RecheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ApprovalTimeout == 0 {
		c.ApprovalTimeout = 10 * time.Second
	}
	if c.Validity == 0 {
		c.Validity = time.Hour
	}
	if c.NoOffersWarnAfter == 0 {
		c.NoOffersWarnAfter = 10 * time.Second
	}
	if c.RecheckInterval == 0 {
		c.RecheckInterval = 2 * time.Second
	}
	return c
}

// Pool turns negotiated draft proposals into a reusable pool of approved
// agreements. Draft proposals are consumed oldest-first (drafts have
// expiry windows); released agreements are reused newest-first (recently
// active providers are warm).
type Pool struct {
	gw  api.AgreementGateway
	bus *events.Bus
	cfg Config

	lk           sync.Mutex
	proposals    []string              // pending drafts, FIFO
	agreements   map[string]*Agreement // all live agreements by id
	reuse        []string              // released agreement ids, LIFO
	lastRejected map[string]bool       // provider id -> last agreement rejected

	notify chan struct{} // wakeup for blocked Get callers

	startedAt     time.Time
	warnedNoOffer bool

	stopOnce sync.Once
	closing  chan struct{}
}

func NewPool(gw api.AgreementGateway, bus *events.Bus, cfg Config) *Pool {
	return &Pool{
		gw:           gw,
		bus:          bus,
		cfg:          cfg.withDefaults(),
		agreements:   map[string]*Agreement{},
		lastRejected: map[string]bool{},
		notify:       make(chan struct{}, 1),
		startedAt:    build.Clock.Now(),
		closing:      make(chan struct{}),
	}
}

// AddProposal enqueues a negotiated draft proposal for agreement
// creation. Called by the market negotiator.
func (p *Pool) AddProposal(proposalID string) {
	p.lk.Lock()
	p.proposals = append(p.proposals, proposalID)
	p.lk.Unlock()
	log.Debugw("draft proposal added to pool", "proposal", proposalID)
	p.wake()
}

// Get returns an approved agreement for exclusive use by one task. It
// blocks until a released agreement can be reused or a new one is
// negotiated from a pending draft, or until ctx is done or the pool is
// stopped. Concurrent callers always receive distinct agreements.
func (p *Pool) Get(ctx context.Context) (*Agreement, error) {
	for {
		select {
		case <-p.closing:
			return nil, ErrPoolStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if a := p.reusable(ctx); a != nil {
			metrics.RecordInc(ctx, metrics.AgreementsReused)
			return a, nil
		}

		if proposalID, ok := p.popProposal(); ok {
			a, err := p.createFromProposal(ctx, proposalID)
			if err != nil {
				log.Errorw("could not create agreement from proposal", "proposal", proposalID, "err", err)
				continue
			}
			return a, nil
		}

		p.maybeWarnNoOffers()

		timer := build.Clock.Timer(p.cfg.RecheckInterval)
		select {
		case <-p.notify:
			timer.Stop()
		case <-timer.C:
		case <-p.closing:
			timer.Stop()
			return nil, ErrPoolStopped
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Release hands an agreement back to the pool. With allowReuse the
// agreement goes on top of the reuse stack; otherwise it is terminated
// and dropped.
func (p *Pool) Release(ctx context.Context, agreementID string, allowReuse bool) error {
	p.lk.Lock()
	a, ok := p.agreements[agreementID]
	if !ok {
		p.lk.Unlock()
		return xerrors.Errorf("agreement %s not found in pool", agreementID)
	}
	if allowReuse {
		p.reuse = append(p.reuse, agreementID)
		p.lk.Unlock()
		log.Debugw("agreement released for reuse", "agreement", agreementID)
		p.wake()
		return nil
	}
	delete(p.agreements, agreementID)
	p.lk.Unlock()

	if err := a.Terminate(ctx, "Work finished"); err != nil {
		return err
	}
	metrics.RecordInc(ctx, metrics.AgreementsTerminated)
	p.bus.Publish(events.AgreementTerminated{ID: agreementID, Reason: "Work finished"})
	log.Debugw("agreement released and terminated", "agreement", agreementID)
	return nil
}

// TerminateAll best-effort terminates every agreement still held by the
// pool. Per-agreement failures are logged, never returned.
func (p *Pool) TerminateAll(ctx context.Context, reason string) {
	p.lk.Lock()
	held := make([]*Agreement, 0, len(p.agreements))
	for _, a := range p.agreements {
		held = append(held, a)
	}
	p.agreements = map[string]*Agreement{}
	p.reuse = nil
	p.lk.Unlock()

	var merr *multierror.Error
	for _, a := range held {
		if err := a.Terminate(ctx, reason); err != nil {
			merr = multierror.Append(merr, err)
			log.Warnw("agreement could not be terminated", "agreement", a.ID, "err", err)
			continue
		}
		metrics.RecordInc(ctx, metrics.AgreementsTerminated)
		p.bus.Publish(events.AgreementTerminated{ID: a.ID, Reason: reason})
	}
	if err := merr.ErrorOrNil(); err != nil {
		log.Warnf("terminating %d agreement(s) failed: %s", merr.Len(), err)
	}
}

// Stop unblocks all Get callers and terminates held agreements.
func (p *Pool) Stop(ctx context.Context, reason string) {
	p.stopOnce.Do(func() { close(p.closing) })
	p.TerminateAll(ctx, reason)
	log.Debug("agreement pool stopped")
}

// IsProviderLastAgreementRejected reports whether the most recent
// agreement with the given provider ended rejected. Used by scoring
// strategies.
func (p *Pool) IsProviderLastAgreementRejected(providerID string) bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.lastRejected[providerID]
}

// reusable pops released agreements until one is still Approved. Popped
// agreements in any other state are no longer available and stay out of
// the reuse stack.
func (p *Pool) reusable(ctx context.Context) *Agreement {
	for {
		p.lk.Lock()
		if len(p.reuse) == 0 {
			p.lk.Unlock()
			return nil
		}
		id := p.reuse[len(p.reuse)-1]
		p.reuse = p.reuse[:len(p.reuse)-1]
		a := p.agreements[id]
		p.lk.Unlock()
		if a == nil {
			// released without reuse (or terminated) concurrently
			continue
		}

		state, err := a.State(ctx)
		if err != nil {
			log.Warnw("cannot refresh state of released agreement", "agreement", id, "err", err)
			continue
		}
		if state != api.AgreementApproved {
			log.Debugw("released agreement no longer available", "agreement", id, "state", state)
			continue
		}
		return a
	}
}

func (p *Pool) popProposal() (string, bool) {
	p.lk.Lock()
	defer p.lk.Unlock()
	if len(p.proposals) == 0 {
		return "", false
	}
	id := p.proposals[0]
	p.proposals = p.proposals[1:]
	return id, true
}

func (p *Pool) createFromProposal(ctx context.Context, proposalID string) (*Agreement, error) {
	log.Debugw("creating agreement", "proposal", proposalID)
	a, state, err := create(ctx, p.gw, proposalID, p.cfg.Validity, p.cfg.ApprovalTimeout, build.Clock.Now())
	if a != nil && a.Provider.ID != "" {
		p.lk.Lock()
		p.lastRejected[a.Provider.ID] = state == api.AgreementRejected
		p.lk.Unlock()
	}
	if err != nil {
		return nil, err
	}
	if state != api.AgreementApproved {
		metrics.RecordInc(ctx, metrics.AgreementsRejected)
		p.bus.Publish(events.AgreementRejected{ID: a.ID, ProviderID: a.Provider.ID, State: string(state)})
		return nil, xerrors.Errorf("agreement %s was not approved, state: %s", a.ID, state)
	}

	p.lk.Lock()
	p.agreements[a.ID] = a
	p.lk.Unlock()

	metrics.RecordInc(ctx, metrics.AgreementsCreated)
	p.bus.Publish(events.AgreementCreated{
		ID:           a.ID,
		ProviderID:   a.Provider.ID,
		ProviderName: a.Provider.Name,
		ProposalID:   proposalID,
	})
	log.Infow("agreement created", "agreement", a.ID, "provider", a.Provider.Name)
	return a, nil
}

func (p *Pool) maybeWarnNoOffers() {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.warnedNoOffer {
		return
	}
	if build.Clock.Since(p.startedAt) > p.cfg.NoOffersWarnAfter {
		log.Warn("no offers have been collected from the market")
		p.warnedNoOffer = true
	}
}

// wake nudges one blocked Get. The channel is buffered; a pending signal
// already guarantees a re-check, and RecheckInterval bounds missed
// wakeups when several resources arrive at once.
func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
