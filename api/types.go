package api

import "time"

// ProposalState is the negotiation state of a market proposal as reported
// by the daemon.
type ProposalState string

const (
	ProposalInitial  ProposalState = "Initial"
	ProposalDraft    ProposalState = "Draft"
	ProposalExpired  ProposalState = "Expired"
	ProposalRejected ProposalState = "Rejected"
)

// AgreementState is the lifecycle state of an agreement.
type AgreementState string

const (
	AgreementProposal   AgreementState = "Proposal"
	AgreementPending    AgreementState = "Pending"
	AgreementApproved   AgreementState = "Approved"
	AgreementRejected   AgreementState = "Rejected"
	AgreementCancelled  AgreementState = "Cancelled"
	AgreementExpired    AgreementState = "Expired"
	AgreementTerminated AgreementState = "Terminated"
)

// ActivityState is the execution state of an activity on the provider.
type ActivityState string

const (
	ActivityNew          ActivityState = "New"
	ActivityInitialized  ActivityState = "Initialized"
	ActivityDeployed     ActivityState = "Deployed"
	ActivityReady        ActivityState = "Ready"
	ActivityTerminated   ActivityState = "Terminated"
	ActivityUnresponsive ActivityState = "Unresponsive"
)

// InvoiceStatus covers both invoices and debit notes.
type InvoiceStatus string

const (
	InvoiceReceived InvoiceStatus = "RECEIVED"
	InvoiceAccepted InvoiceStatus = "ACCEPTED"
	InvoiceSettled  InvoiceStatus = "SETTLED"
	InvoiceRejected InvoiceStatus = "REJECTED"
	InvoiceFailed   InvoiceStatus = "FAILED"
)

// ProviderInfo identifies the remote node on the other side of an
// agreement.
type ProviderInfo struct {
	ID   string
	Name string
}

// ProposalData is the daemon's view of a single proposal.
type ProposalData struct {
	ID             string
	IssuerID       string
	State          ProposalState
	PrevProposalID string
	Properties     map[string]interface{}
	Constraints    string
	Timestamp      time.Time
}

// ProposalEvent is one entry from the proposal event collection endpoint.
type ProposalEvent struct {
	Type     string
	Date     time.Time
	Proposal *ProposalData
	Reason   string
}

// Proposal event types returned by MarketGateway.CollectProposalEvents.
const (
	ProposalEventType         = "ProposalEvent"
	ProposalRejectedEventType = "ProposalRejectedEvent"
)

// DemandDescriptor is the property/constraint bundle published as a
// demand, and re-sent with every counter-proposal.
type DemandDescriptor struct {
	Properties  map[string]interface{}
	Constraints []string
}

// AgreementData is the daemon's view of an agreement.
type AgreementData struct {
	ID       string
	State    AgreementState
	Provider ProviderInfo
	Validity time.Time
}

// ExeScriptRequest is a serialized command batch for an activity.
type ExeScriptRequest struct {
	Text string
}

// CommandResult is the outcome of one command within an exe-script batch.
type CommandResult struct {
	Index           int
	EventDate       time.Time
	Result          string // "Ok" or "Error"
	Stdout          string
	Stderr          string
	Message         string
	IsBatchFinished bool
}

// Account is a requestor payment account known to the daemon.
type Account struct {
	Platform string
	Address  string
	Driver   string
	Network  string
	Token    string
}

// AllocationParams are the caller-controlled fields of a new allocation.
type AllocationParams struct {
	Budget          string
	PaymentPlatform string
	Address         string
	Expires         time.Duration
	MakeDeposit     bool
}

// AllocationData is the daemon's view of an allocation. Amounts are
// decimal strings as produced by the payment daemon.
type AllocationData struct {
	ID              string
	PaymentPlatform string
	Address         string
	TotalAmount     string
	SpentAmount     string
	RemainingAmount string
	Timestamp       time.Time
	Timeout         time.Time
}

// InvoiceData is a provider's claim for the total cost of an agreement.
type InvoiceData struct {
	ID              string
	IssuerID        string
	RecipientID     string
	PayeeAddr       string
	PayerAddr       string
	PaymentPlatform string
	AgreementID     string
	ActivityIDs     []string
	Amount          string
	PaymentDueDate  time.Time
	Status          InvoiceStatus
}

// DebitNoteData is a provider's interim claim against one activity.
type DebitNoteData struct {
	ID                string
	PreviousDebitNote string
	IssuerID          string
	RecipientID       string
	PayeeAddr         string
	PayerAddr         string
	PaymentPlatform   string
	AgreementID       string
	ActivityID        string
	TotalAmountDue    string
	UsageCounter      []float64
	Timestamp         time.Time
	Status            InvoiceStatus
}

// InvoiceEvent is one entry from the invoice event stream.
type InvoiceEvent struct {
	Type      string
	Date      time.Time
	InvoiceID string
}

// DebitNoteEvent is one entry from the debit note event stream.
type DebitNoteEvent struct {
	Type        string
	Date        time.Time
	DebitNoteID string
}

// Payment event types.
const (
	InvoiceReceivedEventType   = "InvoiceReceivedEvent"
	DebitNoteReceivedEventType = "DebitNoteReceivedEvent"
)
