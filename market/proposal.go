package market

import (
	"context"
	"strings"

	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
)

// Proposal is one offer (or counter-offer) received for our demand. It is
// bound to the subscription it arrived on so that it can be responded to
// or rejected in place.
type Proposal struct {
	ID             string
	IssuerID       string
	State          api.ProposalState
	PrevProposalID string
	Properties     map[string]interface{}
	Constraints    string

	// Score is assigned by the negotiation strategy before the
	// accept/reject decision. Higher is better; negative means rejected
	// by policy.
	Score float64

	subscriptionID string
	demand         api.DemandDescriptor
	gw             api.MarketGateway
}

func newProposal(data *api.ProposalData, subscriptionID string, demand api.DemandDescriptor, gw api.MarketGateway) *Proposal {
	return &Proposal{
		ID:             data.ID,
		IssuerID:       data.IssuerID,
		State:          data.State,
		PrevProposalID: data.PrevProposalID,
		Properties:     data.Properties,
		Constraints:    data.Constraints,
		subscriptionID: subscriptionID,
		demand:         demand,
		gw:             gw,
	}
}

func (p *Proposal) IsInitial() bool  { return p.State == api.ProposalInitial }
func (p *Proposal) IsDraft() bool    { return p.State == api.ProposalDraft }
func (p *Proposal) IsExpired() bool  { return p.State == api.ProposalExpired }
func (p *Proposal) IsRejected() bool { return p.State == api.ProposalRejected }

// ProviderName returns the issuer's self-reported node name, or the
// issuer id when the property is missing.
func (p *Proposal) ProviderName() string {
	if name, ok := p.Properties[PropNodeName].(string); ok && name != "" {
		return name
	}
	return p.IssuerID
}

// PaymentPlatforms lists the payment platforms the issuer declares
// support for.
func (p *Proposal) PaymentPlatforms() []string {
	var platforms []string
	for key := range p.Properties {
		if !strings.HasPrefix(key, PropPaymentPlatformPrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, PropPaymentPlatformPrefix)
		if platform, _, ok := strings.Cut(rest, "."); ok && platform != "" {
			platforms = append(platforms, platform)
		}
	}
	return platforms
}

// Respond sends a counter-proposal carrying the chosen payment platform
// and returns the id of the counter-proposal created on the market.
func (p *Proposal) Respond(ctx context.Context, chosenPlatform string) (string, error) {
	counter := api.DemandDescriptor{
		Properties:  make(map[string]interface{}, len(p.demand.Properties)+1),
		Constraints: p.demand.Constraints,
	}
	for k, v := range p.demand.Properties {
		counter.Properties[k] = v
	}
	counter.Properties[PropChosenPlatform] = chosenPlatform

	id, err := p.gw.CounterProposal(ctx, p.subscriptionID, p.ID, counter)
	if err != nil {
		return "", xerrors.Errorf("countering proposal %s: %w", p.ID, err)
	}
	return id, nil
}

// Reject declines the proposal. Best-effort on the daemon side; callers
// treat failures as non-fatal.
func (p *Proposal) Reject(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "no reason"
	}
	if err := p.gw.RejectProposal(ctx, p.subscriptionID, p.ID, reason); err != nil {
		return xerrors.Errorf("rejecting proposal %s: %w", p.ID, err)
	}
	return nil
}
