package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"reporting-service/internal/config"
	"reporting-service/internal/export"
	"reporting-service/internal/models"
	"reporting-service/internal/ratelimit"
	"reporting-service/internal/store"
	"reporting-service/internal/telemetry"
	"reporting-service/internal/token"
)

// Definitions is the slice of the store the HTTP layer needs.
type Definitions interface {
	CreateReport(ctx context.Context, p store.CreateReportParams) (models.Report, error)
	GetReport(ctx context.Context, id string) (models.Report, error)
	ListReports(ctx context.Context) ([]models.Report, error)
	MarkRun(ctx context.Context, id string) (models.Report, error)
	UpdateStatus(ctx context.Context, id, from, to string) (models.Report, error)
}

// Server wires HTTP handlers for the reporting API.
type Server struct {
	cfg     config.Config
	defs    Definitions
	tokens  *token.Authority
	exports *export.Service
	limiter *ratelimit.Limiter
}

// New constructs the API server.
func New(cfg config.Config, defs Definitions, tokens *token.Authority, exports *export.Service, limiter *ratelimit.Limiter) *Server {
	return &Server{
		cfg:     cfg,
		defs:    defs,
		tokens:  tokens,
		exports: exports,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1/reports", func(r chi.Router) {
		r.Post("/", s.handleCreateReport)
		r.Get("/", s.handleListReports)
		r.Get("/{id}", s.handleGetReport)
		r.Post("/{id}/run", s.handleRunReport)
		r.Post("/{id}/status", s.handleUpdateStatus)
	})

	r.Route("/report", func(r chi.Router) {
		r.Post("/download-mi-report", s.handleDownload(export.KindMI))
		r.Post("/download-ci-report", s.handleDownload(export.KindCI))
		r.Get("/generate-token", s.handleGenerateModuleToken)
		r.Get("/generate-token-for-document", s.handleGenerateDocumentToken)
		r.Get("/validate-token", s.handleValidateToken)
	})

	return r
}

type createReportRequest struct {
	Name           string         `json:"name"`
	ReportType     string         `json:"report_type"`
	Description    string         `json:"description"`
	TemplateID     *int64         `json:"template_id"`
	Parameters     map[string]any `json:"parameters"`
	OutputFormat   string         `json:"output_format"`
	ScheduleConfig map[string]any `json:"schedule_config"`
	IsScheduled    bool           `json:"is_scheduled"`
	Status         string         `json:"status"`
	CreatedBy      *int64         `json:"created_by"`
	BusinessUnitID *int64         `json:"business_unit_id"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Status != "" && !models.ValidStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	report, err := s.defs.CreateReport(r.Context(), store.CreateReportParams{
		Name:           req.Name,
		ReportType:     req.ReportType,
		Description:    req.Description,
		TemplateID:     req.TemplateID,
		Parameters:     req.Parameters,
		OutputFormat:   req.OutputFormat,
		ScheduleConfig: req.ScheduleConfig,
		IsScheduled:    req.IsScheduled,
		Status:         req.Status,
		CreatedBy:      req.CreatedBy,
		BusinessUnitID: req.BusinessUnitID,
	})
	if err != nil {
		slog.Error("create report failed", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	telemetry.ReportsCreated.Inc()
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.defs.GetReport(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		slog.Error("get report failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.defs.ListReports(r.Context())
	if err != nil {
		slog.Error("list reports failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.defs.MarkRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		slog.Error("run report failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}
	telemetry.ReportRuns.Inc()
	writeJSON(w, http.StatusOK, report)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !models.ValidStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	current, err := s.defs.GetReport(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		slog.Error("read report for status change failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "status change failed")
		return
	}
	if !models.CanTransition(current.Status, req.Status) {
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot move %s to %s", current.Status, req.Status))
		return
	}

	report, err := s.defs.UpdateStatus(r.Context(), id, current.Status, req.Status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "report not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "status changed concurrently")
		return
	case err != nil:
		slog.Error("status change failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "status change failed")
		return
	}
	telemetry.StatusChanges.Inc()
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDownload(kind export.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r) {
			return
		}
		var req export.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		path, err := s.exports.Export(r.Context(), kind, req)
		if err != nil {
			slog.Error("export failed", "kind", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to generate report")
			return
		}

		f, err := os.Open(path)
		if err != nil {
			slog.Error("open export failed", "path", path, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read report")
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		_, _ = io.Copy(w, f)
	}
}

func (s *Server) handleGenerateModuleToken(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	userID := queryInt64(r, "user_id")
	moduleID := queryInt64(r, "module_id")

	tok, err := s.tokens.IssueModuleToken(userID, moduleID)
	if err != nil {
		slog.Error("issue module token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	telemetry.TokensIssued.Inc()
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleGenerateDocumentToken(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	tok, err := s.tokens.IssueDocumentToken(queryInt64(r, "user_id"))
	if err != nil {
		slog.Error("issue document token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	telemetry.TokensIssued.Inc()
	writeJSON(w, http.StatusOK, tok)
}

// handleValidateToken answers with a uniform 401 for anything but a live
// token: missing, malformed and expired are indistinguishable on the wire.
func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	raw := r.Header.Get("X-Report-Token")
	if !s.tokens.Validate(raw) {
		telemetry.TokenRejects.Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// allow applies the per-caller rate limit. A nil limiter disables limiting.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	key := fmt.Sprintf("rl:%s", callerFromRequest(r))
	allowed, _, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rate limit error")
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return false
	}
	return true
}

func callerFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func queryInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
