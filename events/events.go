// Package events defines the closed set of notifications emitted by the
// SDK services. Events are flat payload structs tagged with a Kind;
// consumers subscribe through a Bus injected into each service.
package events

import "time"

type Kind int

const (
	KindAllocationCreated Kind = iota + 1
	KindDemandSubscribed
	KindDemandUnsubscribed
	KindProposalReceived
	KindProposalResponded
	KindProposalRejected
	KindAgreementCreated
	KindAgreementRejected
	KindAgreementTerminated
	KindActivityCreated
	KindActivityDestroyed
	KindTaskStarted
	KindTaskRetried
	KindTaskRejected
	KindTaskCompleted
	KindInvoiceReceived
	KindDebitNoteReceived
	KindPaymentAccepted
	KindPaymentFailed
	KindComputationFinished
)

// Event is implemented by every payload struct below. The set is closed;
// dispatch on Kind(), not on dynamic type hierarchies.
type Event interface {
	Kind() Kind
}

type AllocationCreated struct {
	ID       string
	Platform string
	Amount   string
}

type DemandSubscribed struct {
	SubscriptionID string
}

type DemandUnsubscribed struct {
	SubscriptionID string
}

type ProposalReceived struct {
	ID       string
	IssuerID string
	State    string
	Score    float64
}

type ProposalResponded struct {
	ID                string
	CounterProposalID string
	ChosenPlatform    string
}

type ProposalRejected struct {
	ID     string
	Reason string
}

type AgreementCreated struct {
	ID           string
	ProviderID   string
	ProviderName string
	ProposalID   string
}

type AgreementRejected struct {
	ID         string
	ProviderID string
	State      string
}

type AgreementTerminated struct {
	ID     string
	Reason string
}

type ActivityCreated struct {
	ID          string
	AgreementID string
}

type ActivityDestroyed struct {
	ID          string
	AgreementID string
}

type TaskStarted struct {
	ID          string
	AgreementID string
	ActivityID  string
}

type TaskRetried struct {
	ID      string
	Retries int
	Reason  string
}

type TaskRejected struct {
	ID     string
	Reason string
}

type TaskCompleted struct {
	ID string
}

type InvoiceReceived struct {
	ID          string
	AgreementID string
	Amount      string
}

type DebitNoteReceived struct {
	ID          string
	AgreementID string
	ActivityID  string
	Amount      string
}

type PaymentAccepted struct {
	ID          string
	AgreementID string
	Amount      string
}

type PaymentFailed struct {
	ID          string
	AgreementID string
	Reason      string
}

type ComputationFinished struct {
	StartedAt  time.Time
	FinishedAt time.Time
	TasksDone  int
}

func (AllocationCreated) Kind() Kind   { return KindAllocationCreated }
func (DemandSubscribed) Kind() Kind    { return KindDemandSubscribed }
func (DemandUnsubscribed) Kind() Kind  { return KindDemandUnsubscribed }
func (ProposalReceived) Kind() Kind    { return KindProposalReceived }
func (ProposalResponded) Kind() Kind   { return KindProposalResponded }
func (ProposalRejected) Kind() Kind    { return KindProposalRejected }
func (AgreementCreated) Kind() Kind    { return KindAgreementCreated }
func (AgreementRejected) Kind() Kind   { return KindAgreementRejected }
func (AgreementTerminated) Kind() Kind { return KindAgreementTerminated }
func (ActivityCreated) Kind() Kind     { return KindActivityCreated }
func (ActivityDestroyed) Kind() Kind   { return KindActivityDestroyed }
func (TaskStarted) Kind() Kind         { return KindTaskStarted }
func (TaskRetried) Kind() Kind         { return KindTaskRetried }
func (TaskRejected) Kind() Kind        { return KindTaskRejected }
func (TaskCompleted) Kind() Kind       { return KindTaskCompleted }
func (InvoiceReceived) Kind() Kind     { return KindInvoiceReceived }
func (DebitNoteReceived) Kind() Kind   { return KindDebitNoteReceived }
func (PaymentAccepted) Kind() Kind     { return KindPaymentAccepted }
func (PaymentFailed) Kind() Kind       { return KindPaymentFailed }
func (ComputationFinished) Kind() Kind { return KindComputationFinished }
