package task

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/activity"
	"github.com/golemfactory/golem-go/api"
)

// scriptedGateway records every executed exe-script and answers each
// command with Ok.
type scriptedGateway struct {
	lk      sync.Mutex
	scripts []string
	state   api.ActivityState
}

func (g *scriptedGateway) Create(ctx context.Context, agreementID string) (string, error) {
	return "activity-1", nil
}

func (g *scriptedGateway) Exec(ctx context.Context, activityID string, script api.ExeScriptRequest) (<-chan api.CommandResult, error) {
	g.lk.Lock()
	g.scripts = append(g.scripts, script.Text)
	g.lk.Unlock()

	var batch []map[string]interface{}
	if err := json.Unmarshal([]byte(script.Text), &batch); err != nil {
		return nil, err
	}
	ch := make(chan api.CommandResult, len(batch))
	for i := range batch {
		ch <- api.CommandResult{
			Index:           i,
			Result:          "Ok",
			Stdout:          "out",
			IsBatchFinished: i == len(batch)-1,
		}
	}
	close(ch)
	return ch, nil
}

func (g *scriptedGateway) GetState(ctx context.Context, activityID string) (api.ActivityState, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.state == "" {
		return api.ActivityReady, nil
	}
	return g.state, nil
}

func (g *scriptedGateway) Destroy(ctx context.Context, activityID string) error {
	return nil
}

func (g *scriptedGateway) lastScript(t *testing.T) []map[string]interface{} {
	t.Helper()
	g.lk.Lock()
	defer g.lk.Unlock()
	require.NotEmpty(t, g.scripts)
	var batch []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(g.scripts[len(g.scripts)-1]), &batch))
	return batch
}

type memStorage struct{}

func (memStorage) PublishFile(ctx context.Context, srcPath string) (string, error) {
	return "gftp://published/" + srcPath, nil
}

func (memStorage) PublishBytes(ctx context.Context, data []byte) (string, error) {
	return "gftp://published/bytes", nil
}

func (memStorage) ReceiveFile(ctx context.Context, dstPath string) (string, error) {
	return "gftp://receive/" + dstPath, nil
}

func newTestContext(t *testing.T, gw api.ActivityGateway, storage StorageProvider, init InitWorker) *WorkContext {
	t.Helper()
	act, err := activity.Create(context.Background(), gw, nil, "agreement-1")
	require.NoError(t, err)
	return newWorkContext(act, api.ProviderInfo{ID: "provider-1", Name: "node-1"}, storage, init, time.Second, time.Millisecond)
}

func TestWorkContextRunsShellCommand(t *testing.T) {
	gw := &scriptedGateway{}
	w := newTestContext(t, gw, nil, nil)

	res, err := w.Run(context.Background(), "echo hello")
	require.NoError(t, err)
	require.Equal(t, "out", res.Stdout)

	batch := gw.lastScript(t)
	require.Len(t, batch, 1)
	run := batch[0]["run"].(map[string]interface{})
	require.Equal(t, "/bin/sh", run["entry_point"])
}

func TestWorkContextTransfersThroughStorage(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{}
	w := newTestContext(t, gw, memStorage{}, nil)

	_, err := w.UploadFile(ctx, "input.bin", "/golem/input/input.bin")
	require.NoError(t, err)
	tr := gw.lastScript(t)[0]["transfer"].(map[string]interface{})
	require.Equal(t, "gftp://published/input.bin", tr["from"])
	require.Equal(t, "container:/golem/input/input.bin", tr["to"])

	_, err = w.DownloadFile(ctx, "/golem/output/result.bin", "result.bin")
	require.NoError(t, err)
	tr = gw.lastScript(t)[0]["transfer"].(map[string]interface{})
	require.Equal(t, "container:/golem/output/result.bin", tr["from"])
	require.Equal(t, "gftp://receive/result.bin", tr["to"])
}

func TestWorkContextRequiresStorageForTransfers(t *testing.T) {
	ctx := context.Background()
	w := newTestContext(t, &scriptedGateway{}, nil, nil)

	_, err := w.UploadFile(ctx, "input.bin", "/golem/input/input.bin")
	require.Error(t, err)
	_, err = w.DownloadFile(ctx, "/golem/output/out.bin", "out.bin")
	require.Error(t, err)
}

func TestBatchExecutesAccumulatedCommands(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{}
	w := newTestContext(t, gw, memStorage{}, nil)

	results, err := w.BeginBatch().
		UploadJSON(ctx, map[string]string{"mode": "fast"}, "/golem/input/params.json").
		Run("compute --input /golem/input/params.json").
		DownloadFile(ctx, "/golem/output/result.json", "result.json").
		End(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	batch := gw.lastScript(t)
	require.Len(t, batch, 3)
	require.Contains(t, batch[0], "transfer")
	require.Contains(t, batch[1], "run")
	require.Contains(t, batch[2], "transfer")
}

func TestBatchRemembersFirstBuildError(t *testing.T) {
	ctx := context.Background()
	w := newTestContext(t, &scriptedGateway{}, nil, nil)

	// no storage: the upload fails at build time, End reports it
	_, err := w.BeginBatch().
		UploadFile(ctx, "input.bin", "/golem/input/input.bin").
		Run("compute").
		End(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage")
}

func TestEmptyBatchIsAnError(t *testing.T) {
	w := newTestContext(t, &scriptedGateway{}, nil, nil)
	_, err := w.BeginBatch().End(context.Background())
	require.Error(t, err)
}

func TestBeforeBootsFreshActivity(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{state: api.ActivityNew}

	var initRan bool
	init := func(ctx context.Context, w *WorkContext) error {
		initRan = true
		return nil
	}
	w := newTestContext(t, gw, nil, init)

	// the deploy+start batch flips the activity to Ready
	go func() {
		time.Sleep(10 * time.Millisecond)
		gw.lk.Lock()
		gw.state = api.ActivityReady
		gw.lk.Unlock()
	}()

	require.NoError(t, w.before(ctx))
	require.True(t, initRan)

	batch := gw.lastScript(t)
	require.Len(t, batch, 2)
	require.Contains(t, batch[0], "deploy")
	require.Contains(t, batch[1], "start")
}

func TestBeforeSurfacesInitWorkerFailure(t *testing.T) {
	gw := &scriptedGateway{}
	init := func(ctx context.Context, w *WorkContext) error {
		return xerrors.New("image profile mismatch")
	}
	w := newTestContext(t, gw, nil, init)

	err := w.before(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "image profile mismatch")
}
