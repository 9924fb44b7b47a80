package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"reporting-service/internal/models"
	"reporting-service/internal/telemetry"
)

// ErrNotFound is returned when no report exists for the requested id.
var ErrNotFound = errors.New("report not found")

// ErrConflict is returned when a guarded status update matched no row because
// the report's status changed underneath the caller.
var ErrConflict = errors.New("report status changed concurrently")

// Store wraps pgxpool for Postgres persistence of report definitions.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateReportParams collects the caller-supplied fields of a new definition.
type CreateReportParams struct {
	Name           string
	ReportType     string
	Description    string
	TemplateID     *int64
	Parameters     map[string]any
	OutputFormat   string
	ScheduleConfig map[string]any
	IsScheduled    bool
	Status         string
	CreatedBy      *int64
	BusinessUnitID *int64
}

// CreateReport inserts a definition row. The id is assigned here, exactly
// once; created_at and updated_at are stamped to the same instant. A nil
// mapping is stored as SQL NULL, never as an empty object.
func (s *Store) CreateReport(ctx context.Context, p CreateReportParams) (models.Report, error) {
	if p.Status == "" {
		p.Status = models.StatusActive
	}

	paramsJSON, err := marshalMapping(p.Parameters)
	if err != nil {
		return models.Report{}, fmt.Errorf("marshal parameters: %w", err)
	}
	scheduleJSON, err := marshalMapping(p.ScheduleConfig)
	if err != nil {
		return models.Report{}, fmt.Errorf("marshal schedule config: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (id, report_name, report_type, description, template_id, parameters,
			output_format, schedule_config, is_scheduled, status, created_by, business_unit_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, id, p.Name, emptyToNil(p.ReportType), emptyToNil(p.Description), p.TemplateID, paramsJSON,
		emptyToNil(p.OutputFormat), scheduleJSON, p.IsScheduled, p.Status, p.CreatedBy,
		p.BusinessUnitID, now)
	if err != nil {
		return models.Report{}, fmt.Errorf("insert report: %w", err)
	}

	return models.Report{
		ID:             id,
		Name:           p.Name,
		ReportType:     p.ReportType,
		Description:    p.Description,
		TemplateID:     p.TemplateID,
		Parameters:     p.Parameters,
		OutputFormat:   p.OutputFormat,
		ScheduleConfig: p.ScheduleConfig,
		IsScheduled:    p.IsScheduled,
		Status:         p.Status,
		CreatedBy:      p.CreatedBy,
		BusinessUnitID: p.BusinessUnitID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

const reportColumns = `id, report_name, report_type, description, template_id, parameters,
	output_format, schedule_config, is_scheduled, status, last_run_at, next_run_at,
	created_by, business_unit_id, created_at, updated_at`

// GetReport fetches a definition by id. A stored mapping that no longer
// parses is returned absent rather than failing the read.
func (s *Store) GetReport(ctx context.Context, id string) (models.Report, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Report{}, ErrNotFound
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("scan report: %w", err)
	}
	return report, nil
}

// ListReports returns all definitions in store order.
func (s *Store) ListReports(ctx context.Context) ([]models.Report, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+reportColumns+` FROM reports`)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

// MarkRun stamps last_run_at and refreshes updated_at in a single UPDATE,
// leaving status and next_run_at untouched, and returns the updated record.
func (s *Store) MarkRun(ctx context.Context, id string) (models.Report, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE reports SET last_run_at = $2, updated_at = $2
		WHERE id = $1
		RETURNING `+reportColumns, id, now)
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Report{}, ErrNotFound
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("mark run: %w", err)
	}
	return report, nil
}

// UpdateStatus moves a report from one status to another in a single guarded
// UPDATE. The from-status guard keeps two concurrent transitions from both
// applying against the same starting state.
func (s *Store) UpdateStatus(ctx context.Context, id, from, to string) (models.Report, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE reports SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+reportColumns, id, from, to, time.Now().UTC())
	report, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing row from a lost race on status.
		if _, getErr := s.GetReport(ctx, id); errors.Is(getErr, ErrNotFound) {
			return models.Report{}, ErrNotFound
		}
		return models.Report{}, ErrConflict
	}
	if err != nil {
		return models.Report{}, fmt.Errorf("update status: %w", err)
	}
	return report, nil
}

func scanReport(row pgx.Row) (models.Report, error) {
	var r models.Report
	var reportType, description, outputFormat pgtype.Text
	var templateID, createdBy, businessUnitID pgtype.Int8
	var lastRunAt, nextRunAt pgtype.Timestamptz
	var paramsRaw, scheduleRaw []byte

	err := row.Scan(&r.ID, &r.Name, &reportType, &description, &templateID, &paramsRaw,
		&outputFormat, &scheduleRaw, &r.IsScheduled, &r.Status, &lastRunAt, &nextRunAt,
		&createdBy, &businessUnitID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return models.Report{}, err
	}

	r.ReportType = reportType.String
	r.Description = description.String
	r.OutputFormat = outputFormat.String
	r.TemplateID = int8Ptr(templateID)
	r.CreatedBy = int8Ptr(createdBy)
	r.BusinessUnitID = int8Ptr(businessUnitID)
	r.LastRunAt = timestampPtr(lastRunAt)
	r.NextRunAt = timestampPtr(nextRunAt)
	r.Parameters = decodeMapping(&r, "parameters", paramsRaw)
	r.ScheduleConfig = decodeMapping(&r, "schedule_config", scheduleRaw)
	return r, nil
}

// decodeMapping rehydrates a stored mapping column. Parse failures are
// absorbed here: the field comes back nil, the record notes the degraded
// field, and operators get a log line and a counter instead of the caller
// getting an error.
func decodeMapping(r *models.Report, field string, raw []byte) map[string]any {
	if raw == nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.Warn("stored mapping failed to parse, returning field absent",
			"report_id", r.ID, "field", field, "error", err)
		telemetry.DegradedReads.Inc()
		r.DegradedFields = append(r.DegradedFields, field)
		return nil
	}
	return m
}

func marshalMapping(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func int8Ptr(v pgtype.Int8) *int64 {
	if v.Valid {
		return &v.Int64
	}
	return nil
}

func timestampPtr(v pgtype.Timestamptz) *time.Time {
	if v.Valid {
		t := v.Time
		return &t
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
