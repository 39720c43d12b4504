package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/desolidify/internal/artifact"
	"github.com/seantiz/desolidify/internal/client"
	"github.com/seantiz/desolidify/internal/model"
	"github.com/seantiz/desolidify/internal/session"
	"github.com/seantiz/desolidify/internal/stubapi"
)

const testPoll = 10 * time.Millisecond

func ptr(f float64) *float64 { return &f }

type harness struct {
	stub  *stubapi.Server
	ctl   *session.Controller
	store *artifact.Store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts session.Options) *harness {
	t.Helper()
	return newHarnessWith(t, opts, nil)
}

// newHarnessWith builds a controller against a stub service. wrap, if set,
// can replace the job client seen by the controller.
func newHarnessWith(t *testing.T, opts session.Options, wrap func(session.JobClient) session.JobClient) *harness {
	t.Helper()
	return newHarnessOn(t, opts, wrap, artifact.NewMemoryBackend())
}

// newHarnessOn is newHarnessWith with artifacts kept in backend.
func newHarnessOn(t *testing.T, opts session.Options, wrap func(session.JobClient) session.JobClient, backend artifact.Backend) *harness {
	t.Helper()
	logger := discardLogger()

	spec := model.ParamSpec{
		"density": {Type: model.ParamNumber, Min: ptr(0), Max: ptr(1), Default: 0.5},
		"fast":    {Type: model.ParamInteger, Min: ptr(0), Max: ptr(2), Default: 0},
	}
	presets := model.PresetSet{
		"zeta":  {"density": 0.9},
		"alpha": {"density": 0.1},
	}
	stub := stubapi.New(spec, presets, time.Hour, logger)
	ts := httptest.NewServer(stub.Handler())
	t.Cleanup(ts.Close)

	c, err := client.New(client.Config{BaseURL: ts.URL, Timeout: 5 * time.Second}, logger)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	var jc session.JobClient = c
	if wrap != nil {
		jc = wrap(c)
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = testPoll
	}
	store := artifact.NewStore(backend, logger)
	ctl := session.New(jc, store, opts, logger)
	t.Cleanup(ctl.Close)

	ctl.Init(context.Background())
	return &harness{stub: stub, ctl: ctl, store: store}
}

func (h *harness) selectFile(t *testing.T) {
	t.Helper()
	if _, err := h.ctl.SelectFile(context.Background(), "part.stl", []byte("solid part")); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusReply(state string, progress float64, msg string) stubapi.Reply {
	return stubapi.JSONReply(http.StatusOK, model.JobStatus{State: state, Progress: progress, Message: msg})
}

func TestInitSelectsFirstPresetInNameOrder(t *testing.T) {
	h := newHarness(t, session.Options{})

	snap := h.ctl.Snapshot()
	if snap.Preset != "alpha" {
		t.Errorf("preset = %q, want alpha", snap.Preset)
	}
	if snap.Params["density"] != 0.1 {
		t.Errorf("density = %v, want 0.1", snap.Params["density"])
	}
	if snap.Job.State != model.StateIdle {
		t.Errorf("state = %q, want idle", snap.Job.State)
	}
}

func TestSelectPresetAndSetParams(t *testing.T) {
	h := newHarness(t, session.Options{})

	if err := h.ctl.SelectPreset("zeta"); err != nil {
		t.Fatalf("SelectPreset: %v", err)
	}
	if got := h.ctl.Params()["density"]; got != 0.9 {
		t.Errorf("density = %v, want 0.9", got)
	}

	vals, err := h.ctl.SetParams(model.ParamValues{"density": 7})
	if err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	if vals["density"] != 1.0 {
		t.Errorf("density = %v, want clamped 1", vals["density"])
	}

	if err := h.ctl.SelectPreset("nope"); !errors.Is(err, session.ErrUnknownPreset) {
		t.Errorf("SelectPreset(nope) = %v, want ErrUnknownPreset", err)
	}
	if _, err := h.ctl.SetParams(model.ParamValues{"bogus": 1}); err == nil {
		t.Error("SetParams with unknown key succeeded")
	}
}

func TestSubmitWithoutFile(t *testing.T) {
	h := newHarness(t, session.Options{})

	if err := h.ctl.Submit(context.Background()); !errors.Is(err, session.ErrNoFile) {
		t.Fatalf("Submit = %v, want ErrNoFile", err)
	}
	if err := h.ctl.RunPreview(context.Background()); !errors.Is(err, session.ErrNoFile) {
		t.Fatalf("RunPreview = %v, want ErrNoFile", err)
	}
	if n := h.stub.Calls(stubapi.RouteCreateJob); n != 0 {
		t.Errorf("create calls = %d, want 0", n)
	}
	if st := h.ctl.Job().State; st != model.StateIdle {
		t.Errorf("state = %q, want idle", st)
	}
}

func TestReentrancyGuard(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)

	gate := make(chan struct{})
	h.stub.SetHooks(stubapi.Hooks{
		CreateGate: gate,
		Status: func(string, int) stubapi.Reply {
			return statusReply("running", 0.1, "working")
		},
	})

	done := make(chan error, 1)
	go func() { done <- h.ctl.Submit(context.Background()) }()
	waitFor(t, "submit in flight", func() bool { return h.ctl.Snapshot().Busy })

	if err := h.ctl.Submit(context.Background()); !errors.Is(err, session.ErrBusy) {
		t.Errorf("second Submit = %v, want ErrBusy", err)
	}
	if err := h.ctl.RunPreview(context.Background()); !errors.Is(err, session.ErrBusy) {
		t.Errorf("RunPreview = %v, want ErrBusy", err)
	}
	if st := h.ctl.Job(); st.State != model.StateQueued || st.Message != session.MsgUploading {
		t.Errorf("job = %+v, want queued/Uploading", st)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n := h.stub.Calls(stubapi.RouteCreateJob); n != 1 {
		t.Errorf("create calls = %d, want 1", n)
	}

	if err := h.ctl.Submit(context.Background()); !errors.Is(err, session.ErrJobActive) {
		t.Errorf("Submit while running = %v, want ErrJobActive", err)
	}
	if n := h.stub.Calls(stubapi.RouteCreateJob); n != 1 {
		t.Errorf("create calls after rejected submit = %d, want 1", n)
	}
}

func TestSubmitSendsParamsAndPreset(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{Status: func(string, int) stubapi.Reply {
		return statusReply("queued", 0, "")
	}})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	jobs := h.stub.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Preset != "alpha" || jobs[0].Params["density"] != 0.1 {
		t.Errorf("job = %+v, want preset alpha with density 0.1", jobs[0])
	}
	if jobs[0].FileName != "part.stl" || string(jobs[0].Upload) != "solid part" {
		t.Errorf("upload = %q %q, want part.stl", jobs[0].FileName, jobs[0].Upload)
	}
}

func TestHappyPathJobCompletes(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)

	h.stub.SetHooks(stubapi.Hooks{
		Status: func(_ string, n int) stubapi.Reply {
			if n < 3 {
				return statusReply("running", 0.5, "Perforating…")
			}
			return statusReply("finished", 1, "Done.")
		},
		Result: func(string) stubapi.Reply {
			return stubapi.Reply{Status: http.StatusOK, ContentType: "model/stl", Body: []byte("result mesh")}
		},
	})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "job complete", func() bool { return h.ctl.Job().Message == session.MsgComplete })

	job := h.ctl.Job()
	if job.State != model.StateFinished || job.Progress != 1 || !job.HasResult {
		t.Errorf("job = %+v, want finished at 1 with result", job)
	}
	handle, ok := h.store.Get(model.SlotResult)
	if !ok {
		t.Fatal("result slot empty")
	}
	data, err := h.store.Open(context.Background(), handle)
	if err != nil || string(data) != "result mesh" {
		t.Errorf("result = %q, %v", data, err)
	}
	if h.ctl.Polling() {
		t.Error("poller still running after finish")
	}

	polls := h.stub.Calls(stubapi.RouteStatus)
	time.Sleep(5 * testPoll)
	if got := h.stub.Calls(stubapi.RouteStatus); got != polls {
		t.Errorf("status polls continued after finish: %d -> %d", polls, got)
	}
	if n := h.stub.Calls(stubapi.RouteResult); n != 1 {
		t.Errorf("result calls = %d, want exactly 1", n)
	}
}

func TestResultNotReadyLeavesFinished(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)

	var ready atomic.Bool
	h.stub.SetHooks(stubapi.Hooks{
		Status: func(string, int) stubapi.Reply { return statusReply("finished", 1, "") },
		Result: func(string) stubapi.Reply {
			if !ready.Load() {
				return stubapi.JSONReply(http.StatusAccepted, map[string]string{"error": "not ready"})
			}
			return stubapi.Reply{Status: http.StatusOK, ContentType: "model/stl", Body: []byte("late")}
		},
	})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "not ready message", func() bool { return h.ctl.Job().Message == "not ready" })

	if st := h.ctl.Job().State; st != model.StateFinished {
		t.Errorf("state = %q, want finished", st)
	}
	if _, ok := h.store.Get(model.SlotResult); ok {
		t.Error("result slot populated after 202")
	}
	if h.ctl.Polling() {
		t.Error("poller restarted after not-ready result")
	}

	ready.Store(true)
	if err := h.ctl.FetchResult(context.Background()); err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if msg := h.ctl.Job().Message; msg != session.MsgComplete {
		t.Errorf("message = %q, want Complete.", msg)
	}
	if err := h.ctl.FetchResult(context.Background()); !errors.Is(err, session.ErrNoPendingResult) {
		t.Errorf("second FetchResult = %v, want ErrNoPendingResult", err)
	}
}

func TestServerErrorStopsPolling(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{Status: func(string, int) stubapi.Reply {
		return statusReply("error", 0.4, "mesh is not watertight")
	}})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "error state", func() bool { return h.ctl.Job().State == model.StateError })

	if msg := h.ctl.Job().Message; msg != "mesh is not watertight" {
		t.Errorf("message = %q", msg)
	}
	if h.ctl.Polling() {
		t.Error("poller running after server error")
	}
	if n := h.stub.Calls(stubapi.RouteResult); n != 0 {
		t.Errorf("result calls = %d, want 0", n)
	}
}

func TestTransientPollErrorsAreSwallowed(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{
		Status: func(_ string, n int) stubapi.Reply {
			if n <= 3 {
				return stubapi.JSONReply(http.StatusBadGateway, map[string]string{"error": "upstream"})
			}
			return statusReply("finished", 1, "")
		},
		Result: func(string) stubapi.Reply {
			return stubapi.Reply{Status: http.StatusOK, ContentType: "model/stl", Body: []byte("r")}
		},
	})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "job complete", func() bool { return h.ctl.Job().Message == session.MsgComplete })
	if st := h.ctl.Job().State; st != model.StateFinished {
		t.Errorf("state = %q, want finished", st)
	}
}

func TestMaxPollFailuresGivesUp(t *testing.T) {
	h := newHarness(t, session.Options{MaxPollFailures: 3})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{Status: func(string, int) stubapi.Reply {
		return stubapi.JSONReply(http.StatusInternalServerError, map[string]string{"error": "boom"})
	}})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "error state", func() bool { return h.ctl.Job().State == model.StateError })

	if msg := h.ctl.Job().Message; msg != session.MsgLost {
		t.Errorf("message = %q, want %q", msg, session.MsgLost)
	}
	if h.ctl.Polling() {
		t.Error("poller running after giving up")
	}
}

func TestCancelResetsSession(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{Status: func(string, int) stubapi.Reply {
		return statusReply("running", 0.3, "working")
	}})

	if err := h.ctl.RunPreview(context.Background()); err != nil {
		t.Fatalf("RunPreview: %v", err)
	}
	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "progress", func() bool { return h.ctl.Job().Progress == 0.3 })

	if err := h.ctl.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	job := h.ctl.Job()
	if job.State != model.StateIdle || job.Message != session.MsgCancelled || job.Progress != 0 || job.ID != "" {
		t.Errorf("job = %+v, want idle/Cancelled. with no id", job)
	}
	if _, ok := h.store.Get(model.SlotPreview); ok {
		t.Error("preview slot not released")
	}
	if _, ok := h.store.Get(model.SlotInput); !ok {
		t.Error("input slot released by cancel")
	}
	if h.ctl.Polling() {
		t.Error("poller running after cancel")
	}

	polls := h.stub.Calls(stubapi.RouteStatus)
	time.Sleep(5 * testPoll)
	if got := h.stub.Calls(stubapi.RouteStatus); got != polls {
		t.Errorf("polls continued after cancel: %d -> %d", polls, got)
	}
}

type failingCancel struct {
	session.JobClient
}

func (failingCancel) CancelAll(context.Context) error {
	return &client.TransportError{Op: "cancel_all", Status: 500, Message: "HTTP 500"}
}

func TestCancelFailureOnlySurfacesMessage(t *testing.T) {
	h := newHarnessWith(t, session.Options{}, func(jc session.JobClient) session.JobClient {
		return failingCancel{jc}
	})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{Status: func(string, int) stubapi.Reply {
		return statusReply("running", 0.2, "working")
	}})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.ctl.Cancel(context.Background()); err == nil {
		t.Fatal("Cancel succeeded, want error")
	}

	job := h.ctl.Job()
	if job.Message != "HTTP 500" {
		t.Errorf("message = %q, want HTTP 500", job.Message)
	}
	if !job.State.Active() {
		t.Errorf("state = %q, want still active", job.State)
	}
	if !h.ctl.Polling() {
		t.Error("poller stopped by failed cancel")
	}
}

func TestCancelDiscardsInFlightSubmit(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)

	gate := make(chan struct{})
	h.stub.SetHooks(stubapi.Hooks{CreateGate: gate})

	done := make(chan error, 1)
	go func() { done <- h.ctl.Submit(context.Background()) }()
	waitFor(t, "submit in flight", func() bool { return h.ctl.Snapshot().Busy })

	if err := h.ctl.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(gate)

	if err := <-done; !errors.Is(err, session.ErrSuperseded) {
		t.Fatalf("Submit = %v, want ErrSuperseded", err)
	}
	job := h.ctl.Job()
	if job.State != model.StateIdle || job.ID != "" {
		t.Errorf("job = %+v, want idle with no id", job)
	}
	if h.ctl.Polling() {
		t.Error("late submit started a poller")
	}
}

func TestPreviewForcesFastModeOnCopy(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)

	if err := h.ctl.RunPreview(context.Background()); err != nil {
		t.Fatalf("RunPreview: %v", err)
	}

	sent := h.stub.LastPreviewParams()
	if sent["fast"] != float64(2) {
		t.Errorf("sent fast = %v, want 2", sent["fast"])
	}
	if got := h.ctl.Params()["fast"]; got != float64(0) {
		t.Errorf("session fast = %v, want unchanged 0", got)
	}
	if _, ok := h.store.Get(model.SlotPreview); !ok {
		t.Error("preview slot empty")
	}
	job := h.ctl.Job()
	if job.Message != session.MsgPreview || job.State != model.StateIdle {
		t.Errorf("job = %+v, want idle/Preview ready.", job)
	}
}

func TestPreviewFailureDuringJobLeavesState(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{
		Status: func(string, int) stubapi.Reply { return statusReply("running", 0.2, "working") },
		Preview: func([]byte, map[string]any) stubapi.Reply {
			return stubapi.JSONReply(http.StatusInternalServerError, map[string]string{"error": "preview crashed"})
		},
	})

	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := h.ctl.RunPreview(context.Background()); err == nil {
		t.Fatal("RunPreview succeeded, want error")
	}
	if st := h.ctl.Job().State; !st.Active() {
		t.Errorf("state = %q, want job left active", st)
	}

	if err := h.ctl.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := h.ctl.RunPreview(context.Background()); err == nil {
		t.Fatal("RunPreview succeeded, want error")
	}
	job := h.ctl.Job()
	if job.State != model.StateError || job.Message != "preview crashed" {
		t.Errorf("job = %+v, want error/preview crashed", job)
	}
}

func TestSelectFileResetsSession(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{
		Status: func(string, int) stubapi.Reply { return statusReply("finished", 1, "") },
		Result: func(string) stubapi.Reply {
			return stubapi.Reply{Status: http.StatusOK, ContentType: "model/stl", Body: []byte("r")}
		},
	})
	if err := h.ctl.RunPreview(context.Background()); err != nil {
		t.Fatalf("RunPreview: %v", err)
	}
	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "job complete", func() bool { return h.ctl.Job().HasResult })

	oldInput, _ := h.store.Get(model.SlotInput)
	newInput, err := h.ctl.SelectFile(context.Background(), "other.stl", []byte("solid other"))
	if err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if newInput == oldInput {
		t.Error("input handle not replaced")
	}
	if h.store.Valid(oldInput) {
		t.Error("old input handle still valid")
	}
	for _, slot := range []model.Slot{model.SlotPreview, model.SlotResult} {
		if _, ok := h.store.Get(slot); ok {
			t.Errorf("%s slot not released", slot)
		}
	}
	job := h.ctl.Job()
	if job.State != model.StateIdle || job.Message != "" || job.Progress != 0 || job.HasResult {
		t.Errorf("job = %+v, want reset", job)
	}
}

// flakyBackend fails every Put while failPut is set.
type flakyBackend struct {
	*artifact.MemoryBackend
	failPut atomic.Bool
}

func (b *flakyBackend) Put(ctx context.Context, handle string, data []byte) error {
	if b.failPut.Load() {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Put(ctx, handle, data)
}

func TestSelectFileStoreFailureResetsSession(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: artifact.NewMemoryBackend()}
	h := newHarnessOn(t, session.Options{}, nil, backend)
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{
		Status: func(string, int) stubapi.Reply { return statusReply("running", 0.3, "working") },
	})
	if err := h.ctl.RunPreview(context.Background()); err != nil {
		t.Fatalf("RunPreview: %v", err)
	}
	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "job running", func() bool { return h.ctl.Job().State == model.StateRunning })

	oldInput, _ := h.store.Get(model.SlotInput)
	backend.failPut.Store(true)
	if _, err := h.ctl.SelectFile(context.Background(), "other.stl", []byte("solid other")); err == nil {
		t.Fatal("SelectFile succeeded, want store error")
	}

	if h.store.Valid(oldInput) {
		t.Error("old input handle still valid")
	}
	for _, slot := range []model.Slot{model.SlotInput, model.SlotPreview, model.SlotResult} {
		if _, ok := h.store.Get(slot); ok {
			t.Errorf("%s slot not released", slot)
		}
	}
	snap := h.ctl.Snapshot()
	if snap.FileName != "" {
		t.Errorf("file name = %q, want cleared", snap.FileName)
	}
	if snap.Job.State != model.StateIdle || snap.Job.Progress != 0 {
		t.Errorf("job = %+v, want idle", snap.Job)
	}

	// Polling for the abandoned job has stopped.
	calls := h.stub.Calls(stubapi.RouteStatus)
	time.Sleep(5 * testPoll)
	if n := h.stub.Calls(stubapi.RouteStatus); n != calls {
		t.Errorf("status calls grew from %d to %d after reset", calls, n)
	}
	if !errors.Is(h.ctl.Submit(context.Background()), session.ErrNoFile) {
		t.Error("Submit after failed select did not report a missing file")
	}
}

func TestPreviewSuccessClearsEarlierFailure(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{
		Preview: func([]byte, map[string]any) stubapi.Reply {
			return stubapi.JSONReply(http.StatusInternalServerError, map[string]string{"error": "preview crashed"})
		},
	})
	if err := h.ctl.RunPreview(context.Background()); err == nil {
		t.Fatal("RunPreview succeeded, want error")
	}
	if st := h.ctl.Job().State; st != model.StateError {
		t.Fatalf("state = %q, want error", st)
	}

	h.stub.SetHooks(stubapi.Hooks{})
	if err := h.ctl.RunPreview(context.Background()); err != nil {
		t.Fatalf("RunPreview: %v", err)
	}
	job := h.ctl.Job()
	if job.State != model.StateIdle || job.Message != session.MsgPreview {
		t.Errorf("job = %+v, want idle/%q", job, session.MsgPreview)
	}
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t, session.Options{})
	events, unsub := h.ctl.Events().Subscribe()
	defer unsub()

	h.selectFile(t)

	var sawArtifact, sawStatus bool
	timeout := time.After(time.Second)
	for !sawArtifact || !sawStatus {
		select {
		case e := <-events:
			switch e.Type {
			case session.EventArtifact:
				if e.Slot == model.SlotInput && e.Handle != "" {
					sawArtifact = true
				}
			case session.EventStatus:
				if e.Job != nil && e.Job.State == model.StateIdle {
					sawStatus = true
				}
			}
		case <-timeout:
			t.Fatalf("events missing: artifact=%v status=%v", sawArtifact, sawStatus)
		}
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, session.Options{})
	h.selectFile(t)
	h.stub.SetHooks(stubapi.Hooks{Status: func(string, int) stubapi.Reply {
		return statusReply("running", 0.1, "")
	}})
	if err := h.ctl.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	events, _ := h.ctl.Events().Subscribe()
	h.ctl.Close()
	h.ctl.Close()

	if len(h.store.Snapshot()) != 0 {
		t.Errorf("slots after close = %v, want none", h.store.Snapshot())
	}
	if h.ctl.Polling() {
		t.Error("poller running after close")
	}
	for range events {
	}
	if err := h.ctl.Submit(context.Background()); !errors.Is(err, session.ErrClosed) {
		t.Errorf("Submit after close = %v, want ErrClosed", err)
	}
}
