package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/goccy/go-json"

	"github.com/supporttools/GoSiteGuard/pkg/metadata"
)

type scheduleResponse struct {
	metadata.ScheduleSetting
	NextRun *time.Time `json:"nextRun,omitempty"`
}

func (s *Server) scheduleView(setting *metadata.ScheduleSetting) scheduleResponse {
	resp := scheduleResponse{ScheduleSetting: *setting}
	if s.scheduler != nil {
		if next, ok := s.scheduler.NextRun(); ok {
			resp.NextRun = &next
		}
	}
	return resp
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	setting, err := s.schedule.GetSchedule(r.Context())
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduleView(setting))
}

// handleUpdateSchedule validates and stores the schedule, then re-arms the scheduler.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var setting metadata.ScheduleSetting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		s.writeError(w, fmt.Errorf("invalid request body: %v: %w", err, errdefs.ErrInvalidArgument), "")
		return
	}
	if err := setting.Validate(); err != nil {
		s.writeError(w, err, "")
		return
	}

	if err := s.schedule.SaveSchedule(r.Context(), &setting); err != nil {
		s.writeError(w, err, "")
		return
	}
	s.log.Info().
		Bool("enabled", setting.Enabled).
		Int("interval_hours", setting.IntervalHours).
		Int("retention_days", setting.RetentionDays).
		Msg("Backup schedule updated")

	if s.scheduler != nil {
		if err := s.scheduler.Restart(r.Context()); err != nil {
			s.writeError(w, fmt.Errorf("schedule saved but scheduler restart failed: %w", err), "")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, s.scheduleView(&setting))
}
