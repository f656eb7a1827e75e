package api

import (
	"context"
	"time"
)

// MarketGateway is the wire-level client for the market daemon. The SDK
// core only negotiates; transport (REST, test doubles) lives behind this
// interface.
type MarketGateway interface {
	// SubscribeDemand publishes a demand on the market and returns the
	// subscription id used to collect proposal events for it.
	SubscribeDemand(ctx context.Context, demand DemandDescriptor) (string, error)

	// CollectProposalEvents long-polls for proposal events on a
	// subscription. pollTimeout is the server-side hold time; the call
	// returns earlier when events are available.
	CollectProposalEvents(ctx context.Context, subscriptionID string, pollTimeout time.Duration, maxEvents int) ([]ProposalEvent, error)

	// CounterProposal responds to a provider's proposal with our demand
	// (possibly decorated with a chosen payment platform) and returns the
	// id of the newly created counter-proposal.
	CounterProposal(ctx context.Context, subscriptionID, proposalID string, demand DemandDescriptor) (string, error)

	// RejectProposal declines a proposal with a human-readable reason.
	RejectProposal(ctx context.Context, subscriptionID, proposalID, reason string) error

	// Unsubscribe withdraws the demand from the market.
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// AgreementGateway drives the agreement lifecycle against the market
// daemon.
type AgreementGateway interface {
	// Create proposes an agreement built from a draft proposal and
	// returns the new agreement id.
	Create(ctx context.Context, proposalID string, validTo time.Time) (string, error)

	// Confirm signs the agreement on our side and sends it to the
	// provider.
	Confirm(ctx context.Context, agreementID string) error

	// WaitForApproval blocks until the provider approves or rejects the
	// agreement, up to timeout. It returns true once the agreement left
	// the Pending state within the window.
	WaitForApproval(ctx context.Context, agreementID string, timeout time.Duration) (bool, error)

	// Get returns the daemon's current view of the agreement, including
	// the provider identity taken from the underlying offer.
	Get(ctx context.Context, agreementID string) (AgreementData, error)

	// Terminate ends the agreement with a reason visible to the provider.
	Terminate(ctx context.Context, agreementID, reason string) error
}

// ActivityGateway drives remote execution contexts.
type ActivityGateway interface {
	// Create spawns a new activity under an agreement.
	Create(ctx context.Context, agreementID string) (string, error)

	// Exec sends an exe-script batch to the activity. Results are
	// streamed per command; the channel is closed after the final
	// command result (IsBatchFinished) or on stream error.
	Exec(ctx context.Context, activityID string, script ExeScriptRequest) (<-chan CommandResult, error)

	// GetState reports the activity's current execution state.
	GetState(ctx context.Context, activityID string) (ActivityState, error)

	// Destroy tears the activity down on the provider.
	Destroy(ctx context.Context, activityID string) error
}

// PaymentGateway is the wire-level client for the payment daemon.
type PaymentGateway interface {
	// GetRequestorAccounts lists payment accounts usable by this
	// requestor.
	GetRequestorAccounts(ctx context.Context) ([]Account, error)

	// CreateAllocation reserves budget on one payment platform.
	CreateAllocation(ctx context.Context, params AllocationParams) (AllocationData, error)

	// GetAllocation refreshes an allocation's amounts.
	GetAllocation(ctx context.Context, allocationID string) (AllocationData, error)

	// ReleaseAllocation frees the unspent remainder of an allocation.
	ReleaseAllocation(ctx context.Context, allocationID string) error

	// GetDemandDecorations returns the demand properties/constraints
	// required for the given allocations to be usable for payment.
	GetDemandDecorations(ctx context.Context, allocationIDs []string) (DemandDescriptor, error)

	// GetInvoiceEvents returns invoice events issued after the given
	// cursor timestamp.
	GetInvoiceEvents(ctx context.Context, after time.Time, pollTimeout time.Duration, maxEvents int) ([]InvoiceEvent, error)

	// GetDebitNoteEvents returns debit note events issued after the
	// given cursor timestamp.
	GetDebitNoteEvents(ctx context.Context, after time.Time, pollTimeout time.Duration, maxEvents int) ([]DebitNoteEvent, error)

	// GetInvoice fetches one invoice by id.
	GetInvoice(ctx context.Context, invoiceID string) (InvoiceData, error)

	// GetDebitNote fetches one debit note by id.
	GetDebitNote(ctx context.Context, debitNoteID string) (DebitNoteData, error)

	// AcceptInvoice accepts an invoice for the given amount against an
	// allocation.
	AcceptInvoice(ctx context.Context, invoiceID, totalAmountAccepted, allocationID string) error

	// AcceptDebitNote accepts a debit note for the given amount against
	// an allocation.
	AcceptDebitNote(ctx context.Context, debitNoteID, totalAmountAccepted, allocationID string) error

	// RejectInvoice declines an invoice with a reason.
	RejectInvoice(ctx context.Context, invoiceID, reason string) error

	// RejectDebitNote declines a debit note with a reason.
	RejectDebitNote(ctx context.Context, debitNoteID, reason string) error
}
