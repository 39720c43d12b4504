package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/desolidify/internal/client"
	"github.com/seantiz/desolidify/internal/model"
	"github.com/seantiz/desolidify/internal/stubapi"
)

func ptr(f float64) *float64 { return &f }

func testSpec() model.ParamSpec {
	return model.ParamSpec{
		"density": {Type: model.ParamNumber, Min: ptr(0), Max: ptr(1), Default: 0.5},
		"fast":    {Type: model.ParamInteger, Min: ptr(0), Max: ptr(2), Default: 0},
	}
}

func testPresets() model.PresetSet {
	return model.PresetSet{"light": {"density": 0.2}}
}

func newStub(t *testing.T, duration time.Duration) (*stubapi.Server, *client.Client) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	stub := stubapi.New(testSpec(), testPresets(), duration, logger)
	ts := httptest.NewServer(stub.Handler())
	t.Cleanup(ts.Close)

	c, err := client.New(client.Config{BaseURL: ts.URL, Timeout: 5 * time.Second}, logger)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return stub, c
}

func newRawClient(t *testing.T, h http.HandlerFunc) *client.Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := client.New(client.Config{BaseURL: ts.URL + "/api/"}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	for _, base := range []string{"", "ftp://host/api", "://nope"} {
		if _, err := client.New(client.Config{BaseURL: base}, logger); err == nil {
			t.Errorf("New(%q) succeeded, want error", base)
		}
	}
}

func TestParamSpecAndPresets(t *testing.T) {
	_, c := newStub(t, time.Hour)
	ctx := context.Background()

	spec, err := c.ParamSpec(ctx)
	if err != nil {
		t.Fatalf("ParamSpec: %v", err)
	}
	if spec["density"].Type != model.ParamNumber {
		t.Errorf("density type = %q, want number", spec["density"].Type)
	}
	if spec["density"].Max == nil || *spec["density"].Max != 1 {
		t.Errorf("density max = %v, want 1", spec["density"].Max)
	}

	presets, err := c.Presets(ctx)
	if err != nil {
		t.Fatalf("Presets: %v", err)
	}
	if presets["light"]["density"] != 0.2 {
		t.Errorf("light.density = %v, want 0.2", presets["light"]["density"])
	}
}

func TestCreateJobSendsMultipartFields(t *testing.T) {
	stub, c := newStub(t, time.Hour)

	id, err := c.CreateJob(context.Background(),
		client.Upload{Name: "part.stl", Data: []byte("solid x")},
		model.ParamValues{"density": 0.3},
		"light")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if id == "" {
		t.Fatal("empty job id")
	}

	jobs := stub.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("stub has %d jobs, want 1", len(jobs))
	}
	j := jobs[0]
	if j.ID != id {
		t.Errorf("job id = %q, want %q", j.ID, id)
	}
	if j.FileName != "part.stl" {
		t.Errorf("file name = %q, want part.stl", j.FileName)
	}
	if string(j.Upload) != "solid x" {
		t.Errorf("upload = %q, want %q", j.Upload, "solid x")
	}
	if j.Params["density"] != 0.3 {
		t.Errorf("params.density = %v, want 0.3", j.Params["density"])
	}
	if j.Preset != "light" {
		t.Errorf("preset = %q, want light", j.Preset)
	}
}

func TestCreateJobDefaultFileName(t *testing.T) {
	stub, c := newStub(t, time.Hour)

	if _, err := c.CreateJob(context.Background(), client.Upload{Data: []byte("x")}, nil, ""); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	jobs := stub.Jobs()
	if len(jobs) != 1 || jobs[0].FileName != "model.stl" {
		t.Fatalf("jobs = %+v, want one named model.stl", jobs)
	}
	if jobs[0].Preset != "" {
		t.Errorf("preset = %q, want empty", jobs[0].Preset)
	}
}

func TestErrorBodyBecomesMessage(t *testing.T) {
	_, c := newStub(t, time.Hour)

	_, err := c.CreateJob(context.Background(), client.Upload{Name: "part.obj", Data: []byte("x")}, nil, "")
	if err == nil {
		t.Fatal("CreateJob with .obj succeeded, want error")
	}
	var te *client.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *TransportError", err)
	}
	if te.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", te.Status)
	}
	if te.Error() != "Unsupported file extension" {
		t.Errorf("message = %q, want %q", te.Error(), "Unsupported file extension")
	}
}

func TestNonJSONErrorFallsBackToStatus(t *testing.T) {
	c := newRawClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "<html>boom</html>")
	})

	_, err := c.JobStatus(context.Background(), "abc")
	if err == nil {
		t.Fatal("JobStatus succeeded, want error")
	}
	if err.Error() != "HTTP 500" {
		t.Errorf("message = %q, want %q", err.Error(), "HTTP 500")
	}
	if client.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", client.StatusCode(err))
	}
}

func TestBaseURLPathIsPreserved(t *testing.T) {
	var gotPath string
	c := newRawClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"state":"running","progress":0.5}`)
	})

	st, err := c.JobStatus(context.Background(), "j1")
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if gotPath != "/api/jobs/j1" {
		t.Errorf("path = %q, want /api/jobs/j1", gotPath)
	}
	if st.State != "running" || st.Progress != 0.5 {
		t.Errorf("status = %+v, want running at 0.5", st)
	}
}

func TestJobResultNotReady(t *testing.T) {
	stub, c := newStub(t, time.Hour)
	ctx := context.Background()

	id, err := c.CreateJob(ctx, client.Upload{Data: []byte("x")}, nil, "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	_, err = c.JobResult(ctx, id)
	if !client.IsNotReady(err) {
		t.Fatalf("JobResult err = %v, want NotReadyError", err)
	}
	if err.Error() != "Result not ready" {
		t.Errorf("message = %q, want %q", err.Error(), "Result not ready")
	}

	stub.SetHooks(stubapi.Hooks{Result: func(string) stubapi.Reply {
		return stubapi.JSONReply(http.StatusAccepted, map[string]string{"error": "not ready"})
	}})
	_, err = c.JobResult(ctx, id)
	if !client.IsNotReady(err) || err.Error() != "not ready" {
		t.Errorf("JobResult err = %v, want NotReadyError \"not ready\"", err)
	}
}

func TestJobResultBinary(t *testing.T) {
	_, c := newStub(t, 10*time.Millisecond)
	ctx := context.Background()

	id, err := c.CreateJob(ctx, client.Upload{Data: []byte("mesh-bytes")}, nil, "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	st, err := c.JobStatus(ctx, id)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if st.State != model.ServerStateFinished {
		t.Fatalf("state = %q, want finished", st.State)
	}

	data, err := c.JobResult(ctx, id)
	if err != nil {
		t.Fatalf("JobResult: %v", err)
	}
	if string(data) != "mesh-bytes" {
		t.Errorf("result = %q, want mesh-bytes", data)
	}
}

func TestBinaryEndpointWithJSONBodyIsError(t *testing.T) {
	c := newRawClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		io.WriteString(w, `{"error":"mesh is empty"}`)
	})

	_, err := c.Preview(context.Background(), client.Upload{Data: []byte("x")}, model.ParamValues{"fast": 2})
	if err == nil {
		t.Fatal("Preview succeeded, want error")
	}
	if err.Error() != "mesh is empty" {
		t.Errorf("message = %q, want %q", err.Error(), "mesh is empty")
	}
}

func TestPreviewSendsParams(t *testing.T) {
	stub, c := newStub(t, time.Hour)

	data, err := c.Preview(context.Background(), client.Upload{Data: []byte("coarse")}, model.ParamValues{"fast": 2, "density": 0.5})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if string(data) != "coarse" {
		t.Errorf("preview = %q, want coarse", data)
	}
	got := stub.LastPreviewParams()
	if got["fast"] != float64(2) {
		t.Errorf("fast = %v, want 2", got["fast"])
	}
}

func TestCancelAll(t *testing.T) {
	stub, c := newStub(t, time.Hour)
	ctx := context.Background()

	id, err := c.CreateJob(ctx, client.Upload{Data: []byte("x")}, nil, "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := c.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if stub.Calls(stubapi.RouteCancelAll) != 1 {
		t.Errorf("cancel calls = %d, want 1", stub.Calls(stubapi.RouteCancelAll))
	}

	st, err := c.JobStatus(ctx, id)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if st.State != model.ServerStateError {
		t.Errorf("state after cancel = %q, want error", st.State)
	}
}

func TestNetworkErrorHasZeroStatus(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	c, err := client.New(client.Config{BaseURL: base}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	_, err = c.ParamSpec(context.Background())
	if err == nil {
		t.Fatal("ParamSpec against closed server succeeded")
	}
	var te *client.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *TransportError", err)
	}
	if te.Status != 0 {
		t.Errorf("status = %d, want 0", te.Status)
	}
	if strings.Contains(te.Error(), base) {
		t.Errorf("message %q should not repeat the request URL", te.Error())
	}
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := newRawClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.JobStatus(ctx, "j1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapping context.DeadlineExceeded", err)
	}
}
