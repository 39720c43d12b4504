// testserver runs an in-memory mesh job service for manual and end-to-end
// testing of desolidify.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/desolidify/internal/config"
	"github.com/seantiz/desolidify/internal/model"
	"github.com/seantiz/desolidify/internal/stubapi"
)

func ptr(f float64) *float64 { return &f }

var spec = model.ParamSpec{
	"target_faces": {Type: model.ParamInteger, Min: ptr(100), Max: ptr(200000), Step: ptr(100), Default: 20000,
		Tip: "Face budget of the output mesh."},
	"density": {Type: model.ParamNumber, Min: ptr(0.05), Max: ptr(1), Step: ptr(0.05), Default: 0.5,
		Tip: "Lattice density relative to the bounding box."},
	"infill": {Type: model.ParamSelect, Choices: []string{"gyroid", "cubic", "honeycomb"}, Default: "gyroid"},
	"keep_shell": {Type: model.ParamBool, Default: true,
		Tip: "Keep the outer surface closed."},
	"fast": {Type: model.ParamInteger, Min: ptr(0), Max: ptr(2), Default: 0},
}

var presets = model.PresetSet{
	"draft":  {"target_faces": 5000, "density": 0.2, "fast": 1},
	"print":  {"target_faces": 50000, "density": 0.4},
	"sculpt": {"target_faces": 150000, "density": 0.8, "infill": "cubic"},
}

// newRouter serves stub under /api, where the client expects the service.
func newRouter(stub *stubapi.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/api", stub.Handler())
	return r
}

func main() {
	addr := ":5000"
	if v := os.Getenv("DESOLIDIFY_STUB_ADDR"); v != "" {
		addr = v
	}
	duration := 5 * time.Second
	if v := os.Getenv("DESOLIDIFY_STUB_JOB_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			duration = d
		}
	}

	logger := config.NewLogger(os.Stdout, config.Default().LogLevel)
	stub := stubapi.New(spec, presets, duration, logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(stub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("testserver: starting", "addr", addr, "job_duration", duration.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
