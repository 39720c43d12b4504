package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/desolidify/internal/artifact"
	"github.com/seantiz/desolidify/internal/model"
)

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	slot, err := model.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	store := s.session.Store()
	handle, ok := store.Get(slot)
	if !ok {
		s.writeError(w, http.StatusNotFound, "slot is empty")
		return
	}

	data, err := store.Open(r.Context(), handle)
	if errors.Is(err, artifact.ErrHandleRevoked) {
		s.writeError(w, http.StatusNotFound, "slot is empty")
		return
	}
	if err != nil {
		s.logger.Error("open artifact", "slot", slot, "handle", handle, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", "model/stl")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Artifact-Handle", handle)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write artifact", "slot", slot, "error", err)
	}
}
