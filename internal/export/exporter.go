// Package export is the boundary to the report rendering collaborator. The
// registry never calls it; export requests arrive independently through the
// API and pass straight through to a Renderer that materializes a file on
// durable storage.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"reporting-service/internal/telemetry"
)

// Kind selects one of the two fixed export report kinds.
type Kind string

const (
	// KindMI is the material inventory report.
	KindMI Kind = "MI"
	// KindCI is the configuration item report.
	KindCI Kind = "CI"
)

// Request carries the date range and scoping identifiers for an export.
type Request struct {
	FromDate          string  `json:"from_date"`
	ToDate            string  `json:"to_date"`
	LocationIDs       []int64 `json:"location_ids"`
	UserID            int64   `json:"user_id"`
	LocationID        int64   `json:"location_id"`
	RoleID            int64   `json:"role_id"`
	FacilityManagerID int64   `json:"facility_manager_id"`
}

// Renderer produces a report file for a request and returns its path.
type Renderer interface {
	Render(ctx context.Context, kind Kind, req Request) (string, error)
}

// FileRenderer writes export files under a spool directory. The workbook
// content itself comes from the external rendering engine; this renderer
// owns only the file contract (location, naming, durability).
type FileRenderer struct {
	dir string
	now func() time.Time
}

// NewFileRenderer creates the spool directory if needed.
func NewFileRenderer(dir string) (*FileRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &FileRenderer{dir: dir, now: time.Now}, nil
}

// Render writes <KIND>_Report_<millis>.xlsx into the spool directory and
// returns the full path.
func (r *FileRenderer) Render(_ context.Context, kind Kind, req Request) (string, error) {
	name := fmt.Sprintf("%s_Report_%d.xlsx", kind, r.now().UnixMilli())
	path := filepath.Join(r.dir, name)

	manifest, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal export request: %w", err)
	}
	if err := os.WriteFile(path, manifest, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

// Mirror uploads a rendered artifact to secondary storage.
type Mirror interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// S3Mirror copies rendered exports into an S3 bucket.
type S3Mirror struct {
	client *s3.Client
	bucket string
}

// NewS3Mirror builds a mirror against the configured bucket and region.
func NewS3Mirror(ctx context.Context, bucket, region string) (*S3Mirror, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Mirror{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

func (m *S3Mirror) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload export to s3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", m.bucket, key), nil
}

// Service renders exports and optionally mirrors the artifact.
type Service struct {
	renderer Renderer
	mirror   Mirror
}

// NewService wires the renderer with an optional mirror (nil disables
// mirroring).
func NewService(renderer Renderer, mirror Mirror) *Service {
	return &Service{renderer: renderer, mirror: mirror}
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Export renders a report file and returns its local path. Mirror failures do
// not fail the export; the local artifact is the source of truth.
func (s *Service) Export(ctx context.Context, kind Kind, req Request) (string, error) {
	path, err := s.renderer.Render(ctx, kind, req)
	if err != nil {
		return "", err
	}
	telemetry.ExportsRendered.Inc()

	if s.mirror != nil {
		if body, readErr := os.ReadFile(path); readErr == nil {
			if _, upErr := s.mirror.Upload(ctx, filepath.Base(path), body, xlsxContentType); upErr != nil {
				slog.Warn("export mirror upload failed", "path", path, "error", upErr)
			}
		}
	}
	return path, nil
}
