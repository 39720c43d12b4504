package api

import (
	"net/http"

	"github.com/seantiz/desolidify/internal/model"
)

type healthResponse struct {
	Status    string         `json:"status"`
	JobState  model.JobState `json:"job_state"`
	Polling   bool           `json:"polling"`
	Viewports int            `json:"viewports"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		JobState:  s.session.Job().State,
		Polling:   s.session.Polling(),
		Viewports: len(s.viewports.List()),
	})
}
