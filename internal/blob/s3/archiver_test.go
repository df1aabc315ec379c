package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/store/memory"
)

// memBlobs is an in-memory bucket.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBlobs) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func emitAt(t *testing.T, log domain.EventLog, id string, at time.Time) {
	t.Helper()
	env, err := domain.NewEventEnvelope(id, domain.OrderCancelled{}, at)
	require.NoError(t, err)
	require.NoError(t, log.Emit(context.Background(), env))
}

func TestArchiveEventsGroupsByDay(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventBus()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, log, nil)
	a.pageSize = 2

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	emitAt(t, log, "a", day1)
	emitAt(t, log, "b", day1.Add(time.Hour))
	emitAt(t, log, "c", day1.Add(2*time.Hour))
	emitAt(t, log, "d", day2)
	emitAt(t, log, "e", day2.Add(48*time.Hour))

	n, err := a.ArchiveEvents(ctx, day2.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.Equal(t, []string{
		fmt.Sprintf("events/2026/03/01/%d-a.jsonl", day1.UnixNano()),
		fmt.Sprintf("events/2026/03/02/%d-d.jsonl", day2.UnixNano()),
	}, blobs.paths())

	left, err := log.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "e", left[0].ID)

	loaded, err := a.Load(ctx, day1.Add(13*time.Hour))
	require.NoError(t, err)
	var ids []string
	for _, env := range loaded {
		ids = append(ids, env.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.True(t, loaded[0].Timestamp.Equal(day1))
}

func TestArchiveEventsRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	log := memory.NewEventBus()
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, log, nil)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	emitAt(t, log, "a", at)
	require.NoError(t, blobs.Put(ctx, fmt.Sprintf("events/2026/03/01/%d-a.jsonl", at.UnixNano()), strings.NewReader("{}\n"), jsonlContentType))

	_, err := a.ArchiveEvents(ctx, at.Add(time.Hour))
	require.ErrorContains(t, err, "refusing to overwrite")

	left, err := log.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, left, 1, "nothing deleted")
}

// flakyLog fails DeleteBefore a set number of times.
type flakyLog struct {
	domain.EventLog
	failures int
}

func (f *flakyLog) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("connection reset")
	}
	return f.EventLog.DeleteBefore(ctx, before)
}

func TestArchiveEventsResumesAfterFailedDelete(t *testing.T) {
	ctx := context.Background()
	log := &flakyLog{EventLog: memory.NewEventBus(), failures: 1}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, log, nil)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	emitAt(t, log, "a", at)
	emitAt(t, log, "b", at.Add(time.Minute))

	_, err := a.ArchiveEvents(ctx, at.Add(time.Hour))
	require.ErrorContains(t, err, "connection reset")
	require.Len(t, blobs.paths(), 1)

	n, err := a.ArchiveEvents(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := log.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, left)

	loaded, err := a.Load(ctx, at)
	require.NoError(t, err)
	assert.Len(t, loaded, 2, "object not duplicated")
}

func TestArchiveEventsExtendsInterruptedObject(t *testing.T) {
	ctx := context.Background()
	log := &flakyLog{EventLog: memory.NewEventBus(), failures: 1}
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, log, nil)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	emitAt(t, log, "a", at)
	_, err := a.ArchiveEvents(ctx, at.Add(time.Hour))
	require.Error(t, err)

	// A later cutoff picks up one more event of the same day.
	emitAt(t, log, "b", at.Add(2*time.Hour))
	n, err := a.ArchiveEvents(ctx, at.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	loaded, err := a.Load(ctx, at)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[0].ID)
	assert.Equal(t, "b", loaded[1].ID)
}

func TestArchiveEventsNothingToDo(t *testing.T) {
	a := NewArchiver(newMemBlobs(), newMemBlobs(), memory.NewEventBus(), nil)
	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://e2.example.com", normaliseEndpoint("e2.example.com", false))
	assert.Equal(t, "https://s3.example", normaliseEndpoint("https://s3.example", false))
}
