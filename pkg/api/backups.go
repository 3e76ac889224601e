package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/supporttools/GoSiteGuard/pkg/backup"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
	"github.com/supporttools/GoSiteGuard/pkg/version"
)

// restoreWarningHeader is set on every restore response.
const restoreWarningHeader = "X-Restore-Warning"

type backupResponse struct {
	metadata.BackupRecord
	SizeHuman string `json:"sizeHuman"`
}

func toResponse(rec metadata.BackupRecord) backupResponse {
	return backupResponse{BackupRecord: rec, SizeHuman: humanize.Bytes(uint64(rec.Size))}
}

type createBackupRequest struct {
	IncludeDatabase bool `json:"includeDatabase"`
	IncludeUploads  bool `json:"includeUploads"`
	IncludeConfig   bool `json:"includeConfig"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	recs, err := s.backups.ListBackups(r.Context())
	if err != nil {
		s.writeError(w, err, "")
		return
	}

	out := make([]backupResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"backups": out,
		"count":   len(out),
	})
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.backups.GetBackup(r.Context(), id)
	if err != nil {
		s.writeError(w, err, id)
		return
	}
	s.writeJSON(w, http.StatusOK, toResponse(*rec))
}

// handleCreateBackup runs a manual backup. An empty body backs up every segment; otherwise only the
// flags set to true are included.
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
		req = createBackupRequest{IncludeDatabase: true, IncludeUploads: true, IncludeConfig: true}
	case err != nil:
		s.writeError(w, fmt.Errorf("invalid request body: %v: %w", err, errdefs.ErrInvalidArgument), "")
		return
	}

	id, err := s.backups.CreateBackup(r.Context(), backup.CreateOptions{
		Type:            metadata.TypeManual,
		IncludeDatabase: req.IncludeDatabase,
		IncludeUploads:  req.IncludeUploads,
		IncludeConfig:   req.IncludeConfig,
	})
	if err != nil {
		s.writeError(w, err, id)
		return
	}

	rec, err := s.backups.GetBackup(r.Context(), id)
	if err != nil {
		s.writeError(w, err, id)
		return
	}
	s.writeJSON(w, http.StatusCreated, toResponse(*rec))
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.backups.DeleteBackupByID(r.Context(), id); err != nil {
		s.writeError(w, err, id)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "deleted",
		"id":      id,
		"message": fmt.Sprintf("Backup %s deleted", id),
	})
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	w.Header().Set(restoreWarningHeader, "restore overwrites the live database, uploads and config files")

	result, err := s.backups.RestoreBackupByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err, id)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ttl := s.settings().Admin.PresignTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := parseTTL(raw)
		if err != nil {
			s.writeError(w, err, id)
			return
		}
		ttl = parsed
	}

	url, err := s.backups.GetBackupDownloadURL(r.Context(), id, ttl)
	if err != nil {
		s.writeError(w, err, id)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"url":       url,
		"expiresAt": time.Now().Add(ttl).UTC().Format(time.RFC3339),
	})
}

// parseTTL accepts a Go duration ("15m") or a number of seconds.
func parseTTL(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("ttl must be positive: %w", errdefs.ErrInvalidArgument)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid ttl %q: %w", raw, errdefs.ErrInvalidArgument)
	}
	return d, nil
}

func (s *Server) handleRunRetention(w http.ResponseWriter, r *http.Request) {
	var days int
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("invalid days %q: %w", raw, errdefs.ErrInvalidArgument), "")
			return
		}
		days = n
	} else {
		setting, err := s.schedule.GetSchedule(r.Context())
		if err != nil {
			s.writeError(w, err, "")
			return
		}
		days = setting.RetentionDays
	}

	deleted, err := s.backups.CleanOldBackups(r.Context(), days)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"deleted":       deleted,
		"retentionDays": days,
	})
}
