package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRendererWritesNamedFile(t *testing.T) {
	dir := t.TempDir()
	r, err := NewFileRenderer(dir)
	require.NoError(t, err)
	r.now = func() time.Time { return time.UnixMilli(1717243200000) }

	path, err := r.Render(context.Background(), KindMI, Request{
		FromDate:    "2024-05-01",
		ToDate:      "2024-06-01",
		LocationIDs: []int64{1, 2},
		UserID:      7,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "MI_Report_1717243200000.xlsx"), path)
	body, err := os.ReadFile(path)
	require.NoError(t, err)

	var req Request
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "2024-05-01", req.FromDate)
	assert.Equal(t, []int64{1, 2}, req.LocationIDs)
}

func TestFileRendererNamesByKind(t *testing.T) {
	r, err := NewFileRenderer(t.TempDir())
	require.NoError(t, err)

	miPath, err := r.Render(context.Background(), KindMI, Request{})
	require.NoError(t, err)
	ciPath, err := r.Render(context.Background(), KindCI, Request{})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`MI_Report_\d+\.xlsx$`), miPath)
	assert.Regexp(t, regexp.MustCompile(`CI_Report_\d+\.xlsx$`), ciPath)
}

type recordingMirror struct {
	keys []string
}

func (m *recordingMirror) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	m.keys = append(m.keys, key)
	return "s3://test/" + key, nil
}

func TestServiceMirrorsArtifact(t *testing.T) {
	r, err := NewFileRenderer(t.TempDir())
	require.NoError(t, err)
	mirror := &recordingMirror{}
	svc := NewService(r, mirror)

	path, err := svc.Export(context.Background(), KindCI, Request{UserID: 7})
	require.NoError(t, err)

	require.Len(t, mirror.keys, 1)
	assert.Equal(t, filepath.Base(path), mirror.keys[0])
}

func TestServiceWithoutMirror(t *testing.T) {
	r, err := NewFileRenderer(t.TempDir())
	require.NoError(t, err)
	svc := NewService(r, nil)

	path, err := svc.Export(context.Background(), KindMI, Request{})
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
