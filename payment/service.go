package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/golemfactory/golem-go/api"
	"github.com/golemfactory/golem-go/build"
	"github.com/golemfactory/golem-go/events"
	"github.com/golemfactory/golem-go/lib/retry"
	"github.com/golemfactory/golem-go/metrics"
)

// Config holds payment service tunables. Zero values are replaced with
// defaults.
type Config struct {
	// Budget is the total amount reserved per matching payment account,
	// as a decimal string.
	Budget string

	// Driver and Network select which requestor accounts allocations
	// are created on.
	Driver  string
	Network string

	// AllocationExpires bounds the allocations' validity.
	AllocationExpires time.Duration

	// InvoiceFetchInterval and DebitNoteFetchInterval pace the two
	// event poll loops.
	InvoiceFetchInterval   time.Duration
	DebitNoteFetchInterval time.Duration

	// PollTimeout is the server-side hold per event fetch.
	PollTimeout time.Duration

	// MaxEvents caps events per fetch.
	MaxEvents int
}

func (c Config) withDefaults() Config {
	if c.Budget == "" {
		c.Budget = "1.0"
	}
	if c.Driver == "" {
		c.Driver = "erc20"
	}
	if c.Network == "" {
		c.Network = "goerli"
	}
	if c.AllocationExpires == 0 {
		c.AllocationExpires = time.Hour
	}
	if c.InvoiceFetchInterval == 0 {
		c.InvoiceFetchInterval = 5 * time.Second
	}
	if c.DebitNoteFetchInterval == 0 {
		c.DebitNoteFetchInterval = 5 * time.Second
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = 10
	}
	return c
}

// Service reconciles provider payment claims against our allocations. It
// drains the invoice and debit note event streams independently of task
// execution; claims for agreements not yet accepted for payment are
// buffered and retried, never dropped.
type Service struct {
	gw  api.PaymentGateway
	bus *events.Bus
	cfg Config

	lk            sync.Mutex
	allocations   []*Allocation
	accepted      map[string]struct{} // agreement ids payable
	pendingInv    []*Invoice
	pendingNotes  []*DebitNote
	invoiceCursor time.Time
	noteCursor    time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	closing  chan struct{}
}

func NewService(gw api.PaymentGateway, bus *events.Bus, cfg Config) *Service {
	now := build.Clock.Now()
	return &Service{
		gw:            gw,
		bus:           bus,
		cfg:           cfg.withDefaults(),
		accepted:      map[string]struct{}{},
		invoiceCursor: now,
		noteCursor:    now,
		closing:       make(chan struct{}),
	}
}

// CreateAllocations reserves the configured budget on each matching
// payment account. Must be called before the demand is subscribed; the
// returned allocations decorate the demand.
func (s *Service) CreateAllocations(ctx context.Context) ([]*Allocation, error) {
	allocations, err := createAllocations(ctx, s.gw, s.bus, s.cfg.Budget, s.cfg.Driver, s.cfg.Network, s.cfg.AllocationExpires)
	if err != nil {
		return nil, err
	}
	s.lk.Lock()
	s.allocations = allocations
	s.lk.Unlock()
	return allocations, nil
}

// Platforms lists the payment platforms backed by created allocations.
func (s *Service) Platforms() []string {
	s.lk.Lock()
	defer s.lk.Unlock()
	platforms := make([]string, 0, len(s.allocations))
	for _, a := range s.allocations {
		platforms = append(platforms, a.PaymentPlatform)
	}
	return platforms
}

// AcceptPayments marks an agreement's claims as payable. Idempotent;
// called by the task service when work starts and finishes on an
// agreement.
func (s *Service) AcceptPayments(agreementID string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if _, ok := s.accepted[agreementID]; ok {
		return
	}
	s.accepted[agreementID] = struct{}{}
	log.Debugw("payments enabled for agreement", "agreement", agreementID)
}

// Run starts the invoice and debit note poll loops.
func (s *Service) Run(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx, s.cfg.InvoiceFetchInterval, s.fetchInvoices)
	}()
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx, s.cfg.DebitNoteFetchInterval, s.fetchDebitNotes)
	}()
	log.Debug("payment service started")
}

// Stop ends the poll loops, makes a final settlement pass and releases
// all allocations.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.closing) })
	s.wg.Wait()

	// settle anything that became payable right before shutdown
	s.settle(ctx)

	var merr *multierror.Error
	s.lk.Lock()
	allocations := s.allocations
	s.allocations = nil
	s.lk.Unlock()
	for _, a := range allocations {
		if err := a.Release(ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	log.Debug("payment service stopped")
	return merr.ErrorOrNil()
}

func (s *Service) pollLoop(ctx context.Context, interval time.Duration, fetch func(ctx context.Context)) {
	for {
		timer := build.Clock.Timer(interval)
		select {
		case <-timer.C:
		case <-s.closing:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
		fetch(ctx)
		s.settle(ctx)
	}
}

func (s *Service) fetchInvoices(ctx context.Context) {
	s.lk.Lock()
	cursor := s.invoiceCursor
	s.lk.Unlock()

	evts, err := retry.Retry(ctx, 3, time.Second, []error{new(api.TransientError)}, func() ([]api.InvoiceEvent, error) {
		return s.gw.GetInvoiceEvents(ctx, cursor, s.cfg.PollTimeout, s.cfg.MaxEvents)
	})
	if err != nil {
		log.Warnw("collecting invoice events failed", "err", err)
		return
	}
	for _, evt := range evts {
		if evt.Type != api.InvoiceReceivedEventType {
			continue
		}
		data, err := s.gw.GetInvoice(ctx, evt.InvoiceID)
		if err != nil {
			log.Warnw("fetching invoice failed", "invoice", evt.InvoiceID, "err", err)
			continue
		}
		metrics.RecordInc(ctx, metrics.InvoicesReceived)
		s.bus.Publish(events.InvoiceReceived{ID: data.ID, AgreementID: data.AgreementID, Amount: data.Amount})
		log.Debugw("invoice received", "invoice", data.ID, "agreement", data.AgreementID, "amount", data.Amount)

		s.lk.Lock()
		s.pendingInv = append(s.pendingInv, &Invoice{InvoiceData: data, gw: s.gw})
		s.invoiceCursor = evt.Date
		s.lk.Unlock()
	}
}

func (s *Service) fetchDebitNotes(ctx context.Context) {
	s.lk.Lock()
	cursor := s.noteCursor
	s.lk.Unlock()

	evts, err := retry.Retry(ctx, 3, time.Second, []error{new(api.TransientError)}, func() ([]api.DebitNoteEvent, error) {
		return s.gw.GetDebitNoteEvents(ctx, cursor, s.cfg.PollTimeout, s.cfg.MaxEvents)
	})
	if err != nil {
		log.Warnw("collecting debit note events failed", "err", err)
		return
	}
	for _, evt := range evts {
		if evt.Type != api.DebitNoteReceivedEventType {
			continue
		}
		data, err := s.gw.GetDebitNote(ctx, evt.DebitNoteID)
		if err != nil {
			log.Warnw("fetching debit note failed", "debitNote", evt.DebitNoteID, "err", err)
			continue
		}
		metrics.RecordInc(ctx, metrics.DebitNotesReceived)
		s.bus.Publish(events.DebitNoteReceived{
			ID:          data.ID,
			AgreementID: data.AgreementID,
			ActivityID:  data.ActivityID,
			Amount:      data.TotalAmountDue,
		})
		log.Debugw("debit note received", "debitNote", data.ID, "agreement", data.AgreementID, "amount", data.TotalAmountDue)

		s.lk.Lock()
		s.pendingNotes = append(s.pendingNotes, &DebitNote{DebitNoteData: data, gw: s.gw})
		s.noteCursor = evt.Date
		s.lk.Unlock()
	}
}

// settle attempts acceptance of every buffered claim whose agreement is
// payable. Claims that fail or are not yet payable stay buffered for the
// next cycle.
func (s *Service) settle(ctx context.Context) {
	s.lk.Lock()
	invoices := s.pendingInv
	notes := s.pendingNotes
	s.pendingInv = nil
	s.pendingNotes = nil
	s.lk.Unlock()

	var keepInv []*Invoice
	for _, inv := range invoices {
		if !s.isAccepted(inv.AgreementID) {
			keepInv = append(keepInv, inv)
			continue
		}
		if err := s.settleInvoice(ctx, inv); err != nil {
			log.Warnw("settling invoice failed", "invoice", inv.ID, "err", err)
			keepInv = append(keepInv, inv)
		}
	}

	var keepNotes []*DebitNote
	for _, note := range notes {
		if !s.isAccepted(note.AgreementID) {
			keepNotes = append(keepNotes, note)
			continue
		}
		if err := s.settleDebitNote(ctx, note); err != nil {
			log.Warnw("settling debit note failed", "debitNote", note.ID, "err", err)
			keepNotes = append(keepNotes, note)
		}
	}

	s.lk.Lock()
	s.pendingInv = append(keepInv, s.pendingInv...)
	s.pendingNotes = append(keepNotes, s.pendingNotes...)
	s.lk.Unlock()
}

func (s *Service) settleInvoice(ctx context.Context, inv *Invoice) error {
	alloc := s.allocationFor(inv.PaymentPlatform, inv.PayerAddr)
	if alloc == nil {
		// wrong platform or address: a policy failure, not a transient one
		s.bus.Publish(events.PaymentFailed{ID: inv.ID, AgreementID: inv.AgreementID, Reason: "no matching allocation"})
		metrics.RecordInc(ctx, metrics.PaymentsFailed)
		if err := inv.Reject(ctx, "no allocation for platform "+inv.PaymentPlatform); err != nil {
			log.Warnw("rejecting unmatched invoice failed", "invoice", inv.ID, "err", err)
		}
		return nil
	}
	if err := inv.Accept(ctx, alloc.ID); err != nil {
		metrics.RecordInc(ctx, metrics.PaymentsFailed)
		s.bus.Publish(events.PaymentFailed{ID: inv.ID, AgreementID: inv.AgreementID, Reason: err.Error()})
		return err
	}
	metrics.RecordInc(ctx, metrics.PaymentsAccepted)
	s.bus.Publish(events.PaymentAccepted{ID: inv.ID, AgreementID: inv.AgreementID, Amount: inv.Amount})
	log.Infow("invoice accepted", "invoice", inv.ID, "agreement", inv.AgreementID, "amount", inv.Amount)
	return nil
}

func (s *Service) settleDebitNote(ctx context.Context, note *DebitNote) error {
	alloc := s.allocationFor(note.PaymentPlatform, note.PayerAddr)
	if alloc == nil {
		s.bus.Publish(events.PaymentFailed{ID: note.ID, AgreementID: note.AgreementID, Reason: "no matching allocation"})
		metrics.RecordInc(ctx, metrics.PaymentsFailed)
		if err := note.Reject(ctx, "no allocation for platform "+note.PaymentPlatform); err != nil {
			log.Warnw("rejecting unmatched debit note failed", "debitNote", note.ID, "err", err)
		}
		return nil
	}
	if err := note.Accept(ctx, alloc.ID); err != nil {
		metrics.RecordInc(ctx, metrics.PaymentsFailed)
		s.bus.Publish(events.PaymentFailed{ID: note.ID, AgreementID: note.AgreementID, Reason: err.Error()})
		return err
	}
	metrics.RecordInc(ctx, metrics.PaymentsAccepted)
	s.bus.Publish(events.PaymentAccepted{ID: note.ID, AgreementID: note.AgreementID, Amount: note.TotalAmountDue})
	log.Debugw("debit note accepted", "debitNote", note.ID, "agreement", note.AgreementID, "amount", note.TotalAmountDue)
	return nil
}

func (s *Service) isAccepted(agreementID string) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	_, ok := s.accepted[agreementID]
	return ok
}

func (s *Service) allocationFor(platform, address string) *Allocation {
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, a := range s.allocations {
		if a.PaymentPlatform == platform && strings.EqualFold(a.Address, address) {
			return a
		}
	}
	return nil
}
