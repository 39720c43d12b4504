package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/seantiz/desolidify/internal/client"
	"github.com/seantiz/desolidify/internal/model"
	"github.com/seantiz/desolidify/internal/session"
)

const (
	maxBodySize   = 1 << 20  // 1 MB for JSON bodies
	maxUploadSize = 64 << 20 // 64 MB for mesh uploads
)

// paramsResponse is the JSON response for GET /v1/session/params.
type paramsResponse struct {
	Spec    model.ParamSpec   `json:"spec"`
	Presets model.PresetSet   `json:"presets"`
	Preset  string            `json:"preset"`
	Values  model.ParamValues `json:"values"`
}

type presetRequest struct {
	Preset string `json:"preset"`
}

type fileResponse struct {
	Handle   string `json:"handle"`
	FileName string `json:"file_name"`
	Bytes    int    `json:"bytes"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleGetParams(w http.ResponseWriter, _ *http.Request) {
	snap := s.session.Snapshot()
	s.writeJSON(w, http.StatusOK, paramsResponse{
		Spec:    s.session.Spec(),
		Presets: s.session.Presets(),
		Preset:  snap.Preset,
		Values:  snap.Params,
	})
}

func (s *Server) handlePatchParams(w http.ResponseWriter, r *http.Request) {
	var edits model.ParamValues
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	values, err := s.session.SetParams(edits)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, values)
}

func (s *Server) handlePutPreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.session.SelectPreset(req.Preset); err != nil {
		s.writeSessionError(w, "select preset", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing multipart field 'file'")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	handle, err := s.session.SelectFile(r.Context(), header.Filename, data)
	if err != nil {
		s.writeSessionError(w, "select file", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fileResponse{
		Handle:   handle,
		FileName: header.Filename,
		Bytes:    len(data),
	})
}

// The submit and preview requests outlive a client that hangs up; the
// session discards their outcome only on cancel or a new file.

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RunPreview(context.WithoutCancel(r.Context())); err != nil {
		s.writeSessionError(w, "preview", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Submit(context.WithoutCancel(r.Context())); err != nil {
		s.writeSessionError(w, "submit", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Cancel(r.Context()); err != nil {
		s.writeSessionError(w, "cancel", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleFetchResult(w http.ResponseWriter, r *http.Request) {
	if err := s.session.FetchResult(r.Context()); err != nil {
		s.writeSessionError(w, "fetch result", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// writeSessionError maps a controller error to a status code. Guard failures
// are conflicts with the session state; remote failures are bad gateways.
func (s *Server) writeSessionError(w http.ResponseWriter, op string, err error) {
	var (
		notReady  *client.NotReadyError
		transport *client.TransportError
	)
	switch {
	case errors.Is(err, session.ErrNoFile),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrJobActive),
		errors.Is(err, session.ErrNoPendingResult),
		errors.Is(err, session.ErrSuperseded):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrUnknownPreset):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &notReady):
		s.writeError(w, http.StatusAccepted, notReady.Message)
	case errors.As(err, &transport):
		s.logger.Warn(op+" failed", "status", transport.Status, "error", err)
		s.writeError(w, http.StatusBadGateway, transport.Message)
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
