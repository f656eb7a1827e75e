package payment

import (
	"context"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
	"github.com/golemfactory/golem-go/events"
)

var log = logging.Logger("golem/payment")

// Allocation is a reserved payment budget on one platform. All
// agreements negotiated for a run are billed against the run's
// allocations.
type Allocation struct {
	ID              string
	PaymentPlatform string
	Address         string
	TotalAmount     string

	gw api.PaymentGateway
}

func newAllocation(data api.AllocationData, gw api.PaymentGateway) *Allocation {
	return &Allocation{
		ID:              data.ID,
		PaymentPlatform: data.PaymentPlatform,
		Address:         data.Address,
		TotalAmount:     data.TotalAmount,
		gw:              gw,
	}
}

// Remaining refreshes and returns the unspent amount.
func (a *Allocation) Remaining(ctx context.Context) (string, error) {
	data, err := a.gw.GetAllocation(ctx, a.ID)
	if err != nil {
		return "", xerrors.Errorf("refreshing allocation %s: %w", a.ID, err)
	}
	return data.RemainingAmount, nil
}

// Release frees the unspent remainder.
func (a *Allocation) Release(ctx context.Context) error {
	if err := a.gw.ReleaseAllocation(ctx, a.ID); err != nil {
		return xerrors.Errorf("releasing allocation %s: %w", a.ID, err)
	}
	log.Debugw("allocation released", "allocation", a.ID)
	return nil
}

// DemandDecoration returns the demand properties/constraints required
// for this allocation to be usable for payment.
func (a *Allocation) DemandDecoration(ctx context.Context) (api.DemandDescriptor, error) {
	d, err := a.gw.GetDemandDecorations(ctx, []string{a.ID})
	if err != nil {
		return api.DemandDescriptor{}, xerrors.Errorf("getting demand decorations for allocation %s: %w", a.ID, err)
	}
	return d, nil
}

// createAllocations reserves budget on every requestor account matching
// the configured driver and network.
func createAllocations(ctx context.Context, gw api.PaymentGateway, bus *events.Bus, budget, driver, network string, expires time.Duration) ([]*Allocation, error) {
	accounts, err := gw.GetRequestorAccounts(ctx)
	if err != nil {
		return nil, xerrors.Errorf("listing requestor accounts: %w", err)
	}

	var allocations []*Allocation
	for _, account := range accounts {
		if !strings.EqualFold(account.Driver, driver) || !strings.EqualFold(account.Network, network) {
			log.Debugw("skipping payment account", "platform", account.Platform,
				"driver", account.Driver, "network", account.Network)
			continue
		}
		data, err := gw.CreateAllocation(ctx, api.AllocationParams{
			Budget:          budget,
			PaymentPlatform: account.Platform,
			Address:         account.Address,
			Expires:         expires,
		})
		if err != nil {
			return nil, xerrors.Errorf("creating allocation on platform %s: %w", account.Platform, err)
		}
		bus.Publish(events.AllocationCreated{ID: data.ID, Platform: data.PaymentPlatform, Amount: data.TotalAmount})
		log.Infow("allocation created", "allocation", data.ID, "platform", data.PaymentPlatform, "budget", data.TotalAmount)
		allocations = append(allocations, newAllocation(data, gw))
	}
	if len(allocations) == 0 {
		return nil, xerrors.Errorf("no payment account matches driver %q on network %q", driver, network)
	}
	return allocations, nil
}
