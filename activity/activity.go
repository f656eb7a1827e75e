package activity

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
	"github.com/golemfactory/golem-go/build"
	"github.com/golemfactory/golem-go/events"
)

var log = logging.Logger("golem/activity")

// Activity is a live execution context on one provider, bound to one
// agreement. Command execution is serialized by the caller (the task
// service runs at most one task per agreement).
type Activity struct {
	ID          string
	AgreementID string

	gw  api.ActivityGateway
	bus *events.Bus
}

// Create spawns a new activity under the agreement.
func Create(ctx context.Context, gw api.ActivityGateway, bus *events.Bus, agreementID string) (*Activity, error) {
	id, err := gw.Create(ctx, agreementID)
	if err != nil {
		return nil, xerrors.Errorf("creating activity for agreement %s: %w", agreementID, err)
	}
	bus.Publish(events.ActivityCreated{ID: id, AgreementID: agreementID})
	log.Debugw("activity created", "activity", id, "agreement", agreementID)
	return &Activity{ID: id, AgreementID: agreementID, gw: gw, bus: bus}, nil
}

// Exec runs a script and collects all command results. A command-level
// failure ends the batch; the error carries the failing command's index
// and message, and the results gathered so far are still returned.
func (a *Activity) Exec(ctx context.Context, script *Script) ([]api.CommandResult, error) {
	req, err := script.Request()
	if err != nil {
		return nil, err
	}
	stream, err := a.gw.Exec(ctx, a.ID, req)
	if err != nil {
		return nil, xerrors.Errorf("executing script on activity %s: %w", a.ID, err)
	}

	var results []api.CommandResult
	for {
		select {
		case res, ok := <-stream:
			if !ok {
				return results, nil
			}
			results = append(results, res)
			if res.Result == "Error" {
				return results, xerrors.Errorf("command %d on activity %s failed: %s", res.Index, a.ID, res.Message)
			}
			if res.IsBatchFinished {
				return results, nil
			}
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}
}

// State reports the activity's remote execution state.
func (a *Activity) State(ctx context.Context) (api.ActivityState, error) {
	state, err := a.gw.GetState(ctx, a.ID)
	if err != nil {
		return "", xerrors.Errorf("getting state of activity %s: %w", a.ID, err)
	}
	return state, nil
}

// WaitForState polls until the activity reaches want, failing after
// timeout.
func (a *Activity) WaitForState(ctx context.Context, want api.ActivityState, timeout, interval time.Duration) error {
	deadline := build.Clock.Now().Add(timeout)
	for {
		state, err := a.State(ctx)
		if err != nil {
			log.Debugw("activity state check failed", "activity", a.ID, "err", err)
		} else if state == want {
			return nil
		} else if state == api.ActivityTerminated {
			return xerrors.Errorf("activity %s terminated while waiting for state %s", a.ID, want)
		}
		if !build.Clock.Now().Before(deadline) {
			return xerrors.Errorf("activity %s did not reach state %s within %s", a.ID, want, timeout)
		}
		timer := build.Clock.Timer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Stop destroys the activity on the provider.
func (a *Activity) Stop(ctx context.Context) error {
	if err := a.gw.Destroy(ctx, a.ID); err != nil {
		return xerrors.Errorf("destroying activity %s: %w", a.ID, err)
	}
	a.bus.Publish(events.ActivityDestroyed{ID: a.ID, AgreementID: a.AgreementID})
	log.Debugw("activity destroyed", "activity", a.ID)
	return nil
}
