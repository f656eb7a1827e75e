package agreement

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
)

var log = logging.Logger("golem/agreement")

// Agreement is a signed contract with one provider. Instances are owned
// by the Pool; at most one task executes against an agreement at a time.
type Agreement struct {
	ID         string
	Provider   api.ProviderInfo
	ProposalID string

	gw api.AgreementGateway
}

// State refreshes and returns the agreement's remote state.
func (a *Agreement) State(ctx context.Context) (api.AgreementState, error) {
	data, err := a.gw.Get(ctx, a.ID)
	if err != nil {
		return "", xerrors.Errorf("getting agreement %s: %w", a.ID, err)
	}
	return data.State, nil
}

// Terminate ends the agreement. Terminating an agreement that already
// reached a terminal state is a no-op, so release and shutdown paths may
// overlap safely.
func (a *Agreement) Terminate(ctx context.Context, reason string) error {
	state, err := a.State(ctx)
	if err != nil {
		log.Debugw("could not refresh agreement state before terminate", "agreement", a.ID, "err", err)
	} else if isFinal(state) {
		log.Debugw("agreement already in terminal state", "agreement", a.ID, "state", state)
		return nil
	}
	if err := a.gw.Terminate(ctx, a.ID, reason); err != nil {
		return xerrors.Errorf("terminating agreement %s: %w", a.ID, err)
	}
	return nil
}

func isFinal(state api.AgreementState) bool {
	switch state {
	case api.AgreementTerminated, api.AgreementExpired, api.AgreementCancelled, api.AgreementRejected:
		return true
	default:
		return false
	}
}

// create builds an agreement from a draft proposal, confirms it and waits
// for the provider's approval. The returned agreement is Approved; any
// other outcome is an error carrying the final state.
func create(ctx context.Context, gw api.AgreementGateway, proposalID string, validity, approvalTimeout time.Duration, now time.Time) (*Agreement, api.AgreementState, error) {
	id, err := gw.Create(ctx, proposalID, now.Add(validity))
	if err != nil {
		return nil, "", xerrors.Errorf("creating agreement from proposal %s: %w", proposalID, err)
	}

	data, err := gw.Get(ctx, id)
	if err != nil {
		return nil, "", xerrors.Errorf("getting agreement %s: %w", id, err)
	}
	a := &Agreement{ID: id, Provider: data.Provider, ProposalID: proposalID, gw: gw}

	if data.State == api.AgreementProposal {
		if err := gw.Confirm(ctx, id); err != nil {
			return a, data.State, xerrors.Errorf("confirming agreement %s: %w", id, err)
		}
		log.Debugw("agreement confirmed", "agreement", id, "provider", data.Provider.ID)
	}

	if _, err := gw.WaitForApproval(ctx, id, approvalTimeout); err != nil {
		return a, data.State, xerrors.Errorf("waiting for approval of agreement %s: %w", id, err)
	}

	state, err := a.State(ctx)
	if err != nil {
		return a, "", err
	}
	return a, state, nil
}
