package task

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/activity"
	"github.com/golemfactory/golem-go/api"
)

// StorageProvider publishes local data for transfer to providers and
// arranges receive endpoints for downloads. Transports (GFTP, WebSocket
// relays) implement it outside the core.
type StorageProvider interface {
	// PublishFile exposes a local file and returns its transfer URL.
	PublishFile(ctx context.Context, srcPath string) (string, error)

	// PublishBytes exposes an in-memory blob and returns its transfer
	// URL.
	PublishBytes(ctx context.Context, data []byte) (string, error)

	// ReceiveFile returns a transfer URL that stores incoming data at
	// dstPath.
	ReceiveFile(ctx context.Context, dstPath string) (string, error)
}

// WorkContext is the execution façade handed to worker functions. All
// commands run against one activity; within a context commands are
// serialized.
type WorkContext struct {
	act      *activity.Activity
	provider api.ProviderInfo
	storage  StorageProvider

	initWorker    InitWorker
	readyTimeout  time.Duration
	stateInterval time.Duration
}

func newWorkContext(act *activity.Activity, provider api.ProviderInfo, storage StorageProvider, initWorker InitWorker, readyTimeout, stateInterval time.Duration) *WorkContext {
	return &WorkContext{
		act:           act,
		provider:      provider,
		storage:       storage,
		initWorker:    initWorker,
		readyTimeout:  readyTimeout,
		stateInterval: stateInterval,
	}
}

// Provider identifies the node this context executes on.
func (w *WorkContext) Provider() api.ProviderInfo { return w.provider }

// Activity exposes the underlying activity, mainly for diagnostics.
func (w *WorkContext) Activity() *activity.Activity { return w.act }

// before boots the activity on its first use: deploy and start the image
// if needed, wait for Ready, then run the caller's init worker.
func (w *WorkContext) before(ctx context.Context) error {
	state, err := w.act.State(ctx)
	if err != nil {
		return err
	}
	if state != api.ActivityReady {
		if state == api.ActivityNew || state == api.ActivityInitialized {
			script := activity.NewScript(activity.Deploy(), activity.Start())
			if _, err := w.act.Exec(ctx, script); err != nil {
				return xerrors.Errorf("deploying activity %s: %w", w.act.ID, err)
			}
		}
		if err := w.act.WaitForState(ctx, api.ActivityReady, w.readyTimeout, w.stateInterval); err != nil {
			return err
		}
	}
	if w.initWorker != nil {
		if err := w.initWorker(ctx, w); err != nil {
			return xerrors.Errorf("init worker failed on activity %s: %w", w.act.ID, err)
		}
	}
	return nil
}

// Run executes a command line through the image's shell.
func (w *WorkContext) Run(ctx context.Context, commandLine string) (api.CommandResult, error) {
	return w.runOne(ctx, activity.RunShell(commandLine))
}

// RunCommand executes an entry point with explicit arguments.
func (w *WorkContext) RunCommand(ctx context.Context, entryPoint string, args ...string) (api.CommandResult, error) {
	return w.runOne(ctx, activity.Run(entryPoint, args...))
}

// UploadFile transfers a local file into the provider's container at
// dstPath.
func (w *WorkContext) UploadFile(ctx context.Context, srcPath, dstPath string) (api.CommandResult, error) {
	if w.storage == nil {
		return api.CommandResult{}, xerrors.New("no storage provider configured")
	}
	url, err := w.storage.PublishFile(ctx, srcPath)
	if err != nil {
		return api.CommandResult{}, xerrors.Errorf("publishing %s: %w", srcPath, err)
	}
	return w.runOne(ctx, activity.Transfer(url, "container:"+dstPath))
}

// UploadJSON serializes v and transfers it into the container at
// dstPath.
func (w *WorkContext) UploadJSON(ctx context.Context, v interface{}, dstPath string) (api.CommandResult, error) {
	if w.storage == nil {
		return api.CommandResult{}, xerrors.New("no storage provider configured")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return api.CommandResult{}, xerrors.Errorf("serializing json for %s: %w", dstPath, err)
	}
	url, err := w.storage.PublishBytes(ctx, data)
	if err != nil {
		return api.CommandResult{}, xerrors.Errorf("publishing json: %w", err)
	}
	return w.runOne(ctx, activity.Transfer(url, "container:"+dstPath))
}

// DownloadFile transfers a file out of the provider's container into
// dstPath locally.
func (w *WorkContext) DownloadFile(ctx context.Context, srcPath, dstPath string) (api.CommandResult, error) {
	if w.storage == nil {
		return api.CommandResult{}, xerrors.New("no storage provider configured")
	}
	url, err := w.storage.ReceiveFile(ctx, dstPath)
	if err != nil {
		return api.CommandResult{}, xerrors.Errorf("arranging receive for %s: %w", dstPath, err)
	}
	return w.runOne(ctx, activity.Transfer("container:"+srcPath, url))
}

// BeginBatch starts a multi-command script executed in one round trip.
func (w *WorkContext) BeginBatch() *Batch {
	return &Batch{w: w, script: activity.NewScript()}
}

func (w *WorkContext) runOne(ctx context.Context, cmd activity.Command) (api.CommandResult, error) {
	results, err := w.act.Exec(ctx, activity.NewScript(cmd))
	if err != nil {
		return api.CommandResult{}, err
	}
	if len(results) == 0 {
		return api.CommandResult{}, xerrors.Errorf("no result for command on activity %s", w.act.ID)
	}
	return results[len(results)-1], nil
}
