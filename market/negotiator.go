package market

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
	"github.com/golemfactory/golem-go/build"
	"github.com/golemfactory/golem-go/events"
	"github.com/golemfactory/golem-go/metrics"
)

var log = logging.Logger("golem/market")

// ProposalSink receives draft proposals that finished negotiation and are
// ready for agreement creation. Implemented by the agreement pool.
type ProposalSink interface {
	AddProposal(proposalID string)
}

// Config holds negotiator tunables. Zero values are replaced with
// defaults at construction.
type Config struct {
	// SubnetTag restricts matching to providers in one subnet.
	SubnetTag string

	// Expiration is how far in the future the demand declares task
	// completion.
	Expiration time.Duration

	// CollectTimeout is the server-side long-poll hold per collect call.
	CollectTimeout time.Duration

	// MaxEvents caps events fetched per collect call.
	MaxEvents int

	// MaxCollectFailures is the number of consecutive collect failures
	// after which the demand is resubscribed.
	MaxCollectFailures int

	// DebitNoteAcceptTimeout is offered to providers in demand
	// properties.
	DebitNoteAcceptTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Expiration == 0 {
		c.Expiration = 30 * time.Minute
	}
	if c.CollectTimeout == 0 {
		c.CollectTimeout = 5 * time.Second
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = 100
	}
	if c.MaxCollectFailures == 0 {
		c.MaxCollectFailures = 5
	}
	if c.DebitNoteAcceptTimeout == 0 {
		c.DebitNoteAcceptTimeout = 2 * time.Minute
	}
	return c
}

// Negotiator publishes one demand, consumes its proposal event stream and
// drives proposals through negotiation: initial offers are scored and
// countered (or rejected), drafts are forwarded to the agreement pool.
type Negotiator struct {
	gw       api.MarketGateway
	sink     ProposalSink
	strategy Strategy
	bus      *events.Bus
	cfg      Config

	allowedPlatforms []string
	demand           api.DemandDescriptor
	subscriptionID   string

	closing chan struct{}
	closed  chan struct{}
}

func NewNegotiator(gw api.MarketGateway, sink ProposalSink, strategy Strategy, bus *events.Bus, cfg Config) *Negotiator {
	return &Negotiator{
		gw:       gw,
		sink:     sink,
		strategy: strategy,
		bus:      bus,
		cfg:      cfg.withDefaults(),
		closing:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Start publishes the demand and begins collecting proposal events in the
// background. allowedPlatforms is the set of payment platforms backed by
// our allocations; providers must support at least one of them.
func (n *Negotiator) Start(ctx context.Context, demand api.DemandDescriptor, allowedPlatforms []string) error {
	n.demand = n.decorate(demand)
	n.allowedPlatforms = allowedPlatforms

	subID, err := n.gw.SubscribeDemand(ctx, n.demand)
	if err != nil {
		return xerrors.Errorf("subscribing demand: %w", err)
	}
	n.subscriptionID = subID
	n.bus.Publish(events.DemandSubscribed{SubscriptionID: subID})
	log.Infow("demand published on the market", "subscription", subID)

	go n.collectLoop(ctx)
	return nil
}

// Stop ends collection and withdraws the demand from the market.
func (n *Negotiator) Stop(ctx context.Context) error {
	close(n.closing)
	select {
	case <-n.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := n.gw.Unsubscribe(ctx, n.subscriptionID); err != nil {
		return xerrors.Errorf("unsubscribing demand %s: %w", n.subscriptionID, err)
	}
	n.bus.Publish(events.DemandUnsubscribed{SubscriptionID: n.subscriptionID})
	log.Debugw("demand unsubscribed", "subscription", n.subscriptionID)
	return nil
}

func (n *Negotiator) collectLoop(ctx context.Context) {
	defer close(n.closed)

	retry := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	failures := 0

	for {
		select {
		case <-n.closing:
			return
		case <-ctx.Done():
			return
		default:
		}

		evts, err := n.gw.CollectProposalEvents(ctx, n.subscriptionID, n.cfg.CollectTimeout, n.cfg.MaxEvents)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			log.Warnw("collecting proposal events failed", "subscription", n.subscriptionID, "failures", failures, "err", err)
			if failures >= n.cfg.MaxCollectFailures {
				if rerr := n.resubscribe(ctx); rerr != nil {
					log.Errorw("resubscribing demand failed", "err", rerr)
				} else {
					failures = 0
				}
			}
			if !n.pause(ctx, retry.Duration()) {
				return
			}
			continue
		}
		failures = 0
		retry.Reset()

		for _, evt := range evts {
			n.handleEvent(ctx, evt)
		}
	}
}

// decorate stamps the requestor-side base properties onto the demand
// before it is published.
func (n *Negotiator) decorate(demand api.DemandDescriptor) api.DemandDescriptor {
	b := NewDemandBuilder().AddDecoration(demand)
	b.AddProperty(PropExpiration, build.Clock.Now().Add(n.cfg.Expiration).UnixMilli())
	b.AddProperty(PropDebitNoteAcceptTime, int(n.cfg.DebitNoteAcceptTimeout.Seconds()))
	if n.cfg.SubnetTag != "" {
		b.AddProperty(PropSubnet, n.cfg.SubnetTag)
		b.AddConstraint(PropSubnet, OpEq, n.cfg.SubnetTag)
	}
	return b.Build()
}

// resubscribe replaces a subscription the daemon keeps failing on.
func (n *Negotiator) resubscribe(ctx context.Context) error {
	if err := n.gw.Unsubscribe(ctx, n.subscriptionID); err != nil {
		log.Debugw("unsubscribing stale demand failed", "subscription", n.subscriptionID, "err", err)
	}
	subID, err := n.gw.SubscribeDemand(ctx, n.demand)
	if err != nil {
		return xerrors.Errorf("subscribing demand: %w", err)
	}
	log.Infow("demand resubscribed", "old", n.subscriptionID, "new", subID)
	n.subscriptionID = subID
	n.bus.Publish(events.DemandSubscribed{SubscriptionID: subID})
	return nil
}

func (n *Negotiator) handleEvent(ctx context.Context, evt api.ProposalEvent) {
	if evt.Type != api.ProposalEventType || evt.Proposal == nil {
		return
	}
	p := newProposal(evt.Proposal, n.subscriptionID, n.demand, n.gw)
	switch {
	case p.IsInitial():
		n.processInitial(ctx, p)
	case p.IsDraft():
		log.Debugw("proposal negotiated to draft", "proposal", p.ID, "provider", p.IssuerID)
		n.sink.AddProposal(p.ID)
	case p.IsExpired():
		log.Debugw("proposal expired", "proposal", p.ID)
	case p.IsRejected():
		log.Debugw("proposal rejected by provider", "proposal", p.ID)
	default:
		log.Warnw("proposal in unexpected state", "proposal", p.ID, "state", p.State)
	}
}

func (n *Negotiator) processInitial(ctx context.Context, p *Proposal) {
	metrics.RecordInc(ctx, metrics.ProposalsReceived)
	p.Score = n.strategy.ScoreProposal(p)
	n.bus.Publish(events.ProposalReceived{ID: p.ID, IssuerID: p.IssuerID, State: string(p.State), Score: p.Score})
	log.Debugw("initial proposal received", "proposal", p.ID, "provider", p.IssuerID, "score", p.Score)

	common := intersect(n.allowedPlatforms, p.PaymentPlatforms())
	reason := ""
	switch {
	case len(common) == 0:
		reason = "No common payment platform"
	case p.Score < ScoreNeutral:
		reason = "Score too low"
	}
	if reason != "" {
		metrics.RecordInc(ctx, metrics.ProposalsRejected)
		n.bus.Publish(events.ProposalRejected{ID: p.ID, Reason: reason})
		if err := p.Reject(ctx, reason); err != nil {
			log.Warnw("rejecting proposal failed", "proposal", p.ID, "err", err)
		}
		return
	}

	counterID, err := p.Respond(ctx, common[0])
	if err != nil {
		log.Errorw("countering proposal failed", "proposal", p.ID, "err", err)
		return
	}
	metrics.RecordInc(ctx, metrics.ProposalsResponded)
	n.bus.Publish(events.ProposalResponded{ID: p.ID, CounterProposalID: counterID, ChosenPlatform: common[0]})
	log.Debugw("proposal countered", "proposal", p.ID, "counter", counterID, "platform", common[0])
}

// pause sleeps for d, returning false if the service is stopping.
func (n *Negotiator) pause(ctx context.Context, d time.Duration) bool {
	timer := build.Clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-n.closing:
		return false
	case <-ctx.Done():
		return false
	}
}

func intersect(ours, theirs []string) []string {
	var common []string
	for _, a := range ours {
		for _, b := range theirs {
			if a == b {
				common = append(common, a)
				break
			}
		}
	}
	return common
}
