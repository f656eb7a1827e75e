package payment

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
)

// Invoice is a provider's final claim for an agreement's total cost.
type Invoice struct {
	api.InvoiceData

	gw api.PaymentGateway
}

// Accept pays the invoice in full against the given allocation.
func (i *Invoice) Accept(ctx context.Context, allocationID string) error {
	if err := i.gw.AcceptInvoice(ctx, i.ID, i.Amount, allocationID); err != nil {
		return xerrors.Errorf("accepting invoice %s: %w", i.ID, err)
	}
	return nil
}

// Reject declines the invoice with a reason.
func (i *Invoice) Reject(ctx context.Context, reason string) error {
	if err := i.gw.RejectInvoice(ctx, i.ID, reason); err != nil {
		return xerrors.Errorf("rejecting invoice %s: %w", i.ID, err)
	}
	return nil
}

// DebitNote is a provider's interim claim against a running activity.
type DebitNote struct {
	api.DebitNoteData

	gw api.PaymentGateway
}

// Accept acknowledges the note's full amount due against the given
// allocation.
func (d *DebitNote) Accept(ctx context.Context, allocationID string) error {
	if err := d.gw.AcceptDebitNote(ctx, d.ID, d.TotalAmountDue, allocationID); err != nil {
		return xerrors.Errorf("accepting debit note %s: %w", d.ID, err)
	}
	return nil
}

// Reject declines the note with a reason.
func (d *DebitNote) Reject(ctx context.Context, reason string) error {
	if err := d.gw.RejectDebitNote(ctx, d.ID, reason); err != nil {
		return xerrors.Errorf("rejecting debit note %s: %w", d.ID, err)
	}
	return nil
}
