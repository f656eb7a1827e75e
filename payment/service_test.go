package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
)

type acceptCall struct {
	id           string
	amount       string
	allocationID string
}

type fakePaymentGateway struct {
	lk sync.Mutex

	accounts []api.Account

	invoiceEvents []api.InvoiceEvent
	invoices      map[string]api.InvoiceData
	noteEvents    []api.DebitNoteEvent
	notes         map[string]api.DebitNoteData

	acceptedInvoices []acceptCall
	acceptedNotes    []acceptCall
	rejectedInvoices []string
	rejectedNotes    []string
	released         []string

	failAccepts bool
}

func newFakePaymentGateway() *fakePaymentGateway {
	return &fakePaymentGateway{
		accounts: []api.Account{
			{Platform: "erc20-goerli-tglm", Address: "0xrequestor", Driver: "erc20", Network: "goerli"},
			{Platform: "zksync-mainnet-glm", Address: "0xother", Driver: "zksync", Network: "mainnet"},
		},
		invoices: map[string]api.InvoiceData{},
		notes:    map[string]api.DebitNoteData{},
	}
}

func (g *fakePaymentGateway) GetRequestorAccounts(ctx context.Context) ([]api.Account, error) {
	return g.accounts, nil
}

func (g *fakePaymentGateway) CreateAllocation(ctx context.Context, params api.AllocationParams) (api.AllocationData, error) {
	return api.AllocationData{
		ID:              "allocation-" + params.PaymentPlatform,
		PaymentPlatform: params.PaymentPlatform,
		Address:         params.Address,
		TotalAmount:     params.Budget,
		RemainingAmount: params.Budget,
	}, nil
}

func (g *fakePaymentGateway) GetAllocation(ctx context.Context, allocationID string) (api.AllocationData, error) {
	return api.AllocationData{ID: allocationID}, nil
}

func (g *fakePaymentGateway) ReleaseAllocation(ctx context.Context, allocationID string) error {
	g.lk.Lock()
	defer g.lk.Unlock()
	g.released = append(g.released, allocationID)
	return nil
}

func (g *fakePaymentGateway) GetDemandDecorations(ctx context.Context, allocationIDs []string) (api.DemandDescriptor, error) {
	return api.DemandDescriptor{}, nil
}

func (g *fakePaymentGateway) GetInvoiceEvents(ctx context.Context, after time.Time, pollTimeout time.Duration, maxEvents int) ([]api.InvoiceEvent, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	var out []api.InvoiceEvent
	for _, evt := range g.invoiceEvents {
		if evt.Date.After(after) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (g *fakePaymentGateway) GetDebitNoteEvents(ctx context.Context, after time.Time, pollTimeout time.Duration, maxEvents int) ([]api.DebitNoteEvent, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	var out []api.DebitNoteEvent
	for _, evt := range g.noteEvents {
		if evt.Date.After(after) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (g *fakePaymentGateway) GetInvoice(ctx context.Context, invoiceID string) (api.InvoiceData, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	data, ok := g.invoices[invoiceID]
	if !ok {
		return api.InvoiceData{}, xerrors.Errorf("no invoice %s", invoiceID)
	}
	return data, nil
}

func (g *fakePaymentGateway) GetDebitNote(ctx context.Context, debitNoteID string) (api.DebitNoteData, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	data, ok := g.notes[debitNoteID]
	if !ok {
		return api.DebitNoteData{}, xerrors.Errorf("no debit note %s", debitNoteID)
	}
	return data, nil
}

func (g *fakePaymentGateway) AcceptInvoice(ctx context.Context, invoiceID, totalAmountAccepted, allocationID string) error {
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.failAccepts {
		return xerrors.New("daemon unavailable")
	}
	g.acceptedInvoices = append(g.acceptedInvoices, acceptCall{id: invoiceID, amount: totalAmountAccepted, allocationID: allocationID})
	return nil
}

func (g *fakePaymentGateway) AcceptDebitNote(ctx context.Context, debitNoteID, totalAmountAccepted, allocationID string) error {
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.failAccepts {
		return xerrors.New("daemon unavailable")
	}
	g.acceptedNotes = append(g.acceptedNotes, acceptCall{id: debitNoteID, amount: totalAmountAccepted, allocationID: allocationID})
	return nil
}

func (g *fakePaymentGateway) RejectInvoice(ctx context.Context, invoiceID, reason string) error {
	g.lk.Lock()
	defer g.lk.Unlock()
	g.rejectedInvoices = append(g.rejectedInvoices, invoiceID)
	return nil
}

func (g *fakePaymentGateway) RejectDebitNote(ctx context.Context, debitNoteID, reason string) error {
	g.lk.Lock()
	defer g.lk.Unlock()
	g.rejectedNotes = append(g.rejectedNotes, debitNoteID)
	return nil
}

func (g *fakePaymentGateway) addDebitNote(data api.DebitNoteData, at time.Time) {
	g.lk.Lock()
	defer g.lk.Unlock()
	g.notes[data.ID] = data
	g.noteEvents = append(g.noteEvents, api.DebitNoteEvent{
		Type:        api.DebitNoteReceivedEventType,
		Date:        at,
		DebitNoteID: data.ID,
	})
}

func (g *fakePaymentGateway) addInvoice(data api.InvoiceData, at time.Time) {
	g.lk.Lock()
	defer g.lk.Unlock()
	g.invoices[data.ID] = data
	g.invoiceEvents = append(g.invoiceEvents, api.InvoiceEvent{
		Type:      api.InvoiceReceivedEventType,
		Date:      at,
		InvoiceID: data.ID,
	})
}

func testService(t *testing.T, gw *fakePaymentGateway) *Service {
	t.Helper()
	svc := NewService(gw, nil, Config{Budget: "5.0", Driver: "erc20", Network: "goerli"})
	// events are generated after construction in these tests
	svc.invoiceCursor = time.Time{}
	svc.noteCursor = time.Time{}

	allocations, err := svc.CreateAllocations(context.Background())
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	require.Equal(t, []string{"erc20-goerli-tglm"}, svc.Platforms())
	return svc
}

func TestDebitNoteBufferedUntilAgreementAccepted(t *testing.T) {
	ctx := context.Background()
	gw := newFakePaymentGateway()
	svc := testService(t, gw)

	gw.addDebitNote(api.DebitNoteData{
		ID:              "note-1",
		AgreementID:     "agreement-1",
		PaymentPlatform: "erc20-goerli-tglm",
		PayerAddr:       "0xrequestor",
		TotalAmountDue:  "0.25",
	}, time.Now())

	// the note arrives before the task service flags the agreement
	svc.fetchDebitNotes(ctx)
	svc.settle(ctx)
	require.Empty(t, gw.acceptedNotes)
	require.Empty(t, gw.rejectedNotes)

	// still buffered on the next cycle
	svc.settle(ctx)
	require.Empty(t, gw.acceptedNotes)

	svc.AcceptPayments("agreement-1")
	svc.settle(ctx)
	require.Len(t, gw.acceptedNotes, 1)
	require.Equal(t, "note-1", gw.acceptedNotes[0].id)
	require.Equal(t, "0.25", gw.acceptedNotes[0].amount)
	require.Equal(t, "allocation-erc20-goerli-tglm", gw.acceptedNotes[0].allocationID)
}

func TestInvoiceAcceptedForFullAmount(t *testing.T) {
	ctx := context.Background()
	gw := newFakePaymentGateway()
	svc := testService(t, gw)

	svc.AcceptPayments("agreement-1")
	gw.addInvoice(api.InvoiceData{
		ID:              "invoice-1",
		AgreementID:     "agreement-1",
		PaymentPlatform: "erc20-goerli-tglm",
		PayerAddr:       "0xRequestor", // address match is case-insensitive
		Amount:          "1.75",
	}, time.Now())

	svc.fetchInvoices(ctx)
	svc.settle(ctx)
	require.Len(t, gw.acceptedInvoices, 1)
	require.Equal(t, "1.75", gw.acceptedInvoices[0].amount)
}

func TestInvoiceRejectedWithoutMatchingAllocation(t *testing.T) {
	ctx := context.Background()
	gw := newFakePaymentGateway()
	svc := testService(t, gw)

	svc.AcceptPayments("agreement-1")
	gw.addInvoice(api.InvoiceData{
		ID:              "invoice-1",
		AgreementID:     "agreement-1",
		PaymentPlatform: "zksync-mainnet-glm",
		PayerAddr:       "0xother",
		Amount:          "1.00",
	}, time.Now())

	svc.fetchInvoices(ctx)
	svc.settle(ctx)
	require.Empty(t, gw.acceptedInvoices)
	require.Equal(t, []string{"invoice-1"}, gw.rejectedInvoices)
}

func TestFailedAcceptanceRetriedNextCycle(t *testing.T) {
	ctx := context.Background()
	gw := newFakePaymentGateway()
	svc := testService(t, gw)

	svc.AcceptPayments("agreement-1")
	gw.addInvoice(api.InvoiceData{
		ID:              "invoice-1",
		AgreementID:     "agreement-1",
		PaymentPlatform: "erc20-goerli-tglm",
		PayerAddr:       "0xrequestor",
		Amount:          "2.00",
	}, time.Now())

	gw.failAccepts = true
	svc.fetchInvoices(ctx)
	svc.settle(ctx)
	require.Empty(t, gw.acceptedInvoices)

	gw.failAccepts = false
	svc.settle(ctx)
	require.Len(t, gw.acceptedInvoices, 1)
}

func TestCursorAdvancesPastSeenEvents(t *testing.T) {
	ctx := context.Background()
	gw := newFakePaymentGateway()
	svc := testService(t, gw)

	svc.AcceptPayments("agreement-1")
	gw.addInvoice(api.InvoiceData{
		ID:              "invoice-1",
		AgreementID:     "agreement-1",
		PaymentPlatform: "erc20-goerli-tglm",
		PayerAddr:       "0xrequestor",
		Amount:          "1.00",
	}, time.Now())

	svc.fetchInvoices(ctx)
	svc.settle(ctx)
	require.Len(t, gw.acceptedInvoices, 1)

	// re-fetching must not replay the already handled event
	svc.fetchInvoices(ctx)
	svc.settle(ctx)
	require.Len(t, gw.acceptedInvoices, 1)
}

func TestStopReleasesAllocations(t *testing.T) {
	ctx := context.Background()
	gw := newFakePaymentGateway()
	svc := testService(t, gw)

	require.NoError(t, svc.Stop(ctx))
	require.Equal(t, []string{"allocation-erc20-goerli-tglm"}, gw.released)
}
