package task

import (
	"context"
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/activity"
	"github.com/golemfactory/golem-go/api"
)

// Batch accumulates commands and executes them as one exe-script. The
// first error while building the batch is remembered and returned from
// End; later build calls become no-ops.
type Batch struct {
	w      *WorkContext
	script *activity.Script
	err    error
}

func (b *Batch) Run(commandLine string) *Batch {
	if b.err != nil {
		return b
	}
	b.script.Add(activity.RunShell(commandLine))
	return b
}

func (b *Batch) RunCommand(entryPoint string, args ...string) *Batch {
	if b.err != nil {
		return b
	}
	b.script.Add(activity.Run(entryPoint, args...))
	return b
}

func (b *Batch) UploadFile(ctx context.Context, srcPath, dstPath string) *Batch {
	if b.err != nil {
		return b
	}
	if b.w.storage == nil {
		b.err = xerrors.New("no storage provider configured")
		return b
	}
	url, err := b.w.storage.PublishFile(ctx, srcPath)
	if err != nil {
		b.err = xerrors.Errorf("publishing %s: %w", srcPath, err)
		return b
	}
	b.script.Add(activity.Transfer(url, "container:"+dstPath))
	return b
}

func (b *Batch) UploadJSON(ctx context.Context, v interface{}, dstPath string) *Batch {
	if b.err != nil {
		return b
	}
	if b.w.storage == nil {
		b.err = xerrors.New("no storage provider configured")
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = xerrors.Errorf("serializing json for %s: %w", dstPath, err)
		return b
	}
	url, err := b.w.storage.PublishBytes(ctx, data)
	if err != nil {
		b.err = xerrors.Errorf("publishing json: %w", err)
		return b
	}
	b.script.Add(activity.Transfer(url, "container:"+dstPath))
	return b
}

func (b *Batch) DownloadFile(ctx context.Context, srcPath, dstPath string) *Batch {
	if b.err != nil {
		return b
	}
	if b.w.storage == nil {
		b.err = xerrors.New("no storage provider configured")
		return b
	}
	url, err := b.w.storage.ReceiveFile(ctx, dstPath)
	if err != nil {
		b.err = xerrors.Errorf("arranging receive for %s: %w", dstPath, err)
		return b
	}
	b.script.Add(activity.Transfer("container:"+srcPath, url))
	return b
}

// End executes the accumulated script and returns per-command results.
func (b *Batch) End(ctx context.Context) ([]api.CommandResult, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.script.Len() == 0 {
		return nil, xerrors.New("empty batch")
	}
	return b.w.act.Exec(ctx, b.script)
}
