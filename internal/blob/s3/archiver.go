package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	archivePrefix    = "events/"
	defaultPageSize  = 1000
	// maxEventsPerObject caps a single archive object.
	maxEventsPerObject = 50000
)

// multipartWriter is implemented by writers that can split large uploads.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// ArchiveImpl implements domain.Archiver. It copies events older than a
// cutoff from the event log to JSONL objects under events/YYYY/MM/DD/ and
// then deletes them from the log.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	log      domain.EventLog
	pageSize int
	logger   *slog.Logger
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, log domain.EventLog, logger *slog.Logger) *ArchiveImpl {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveImpl{
		writer:   writer,
		reader:   reader,
		log:      log,
		pageSize: defaultPageSize,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents uploads every event before the cutoff, one object per UTC day
// and chunk, and deletes the archived events from the log. An object left at
// a target path by an interrupted run is reused when it holds the same
// events; any other existing object aborts the run before anything is
// deleted.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var (
		chunk    []domain.EventEnvelope
		uploaded int64
		offset   int
	)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := a.upload(ctx, chunk); err != nil {
			return err
		}
		uploaded += int64(len(chunk))
		chunk = chunk[:0]
		return nil
	}

	for {
		page, err := a.log.List(ctx, domain.ListOpts{Until: &before, Limit: a.pageSize, Offset: offset})
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		for _, env := range page {
			if len(chunk) > 0 && (!sameDay(chunk[0].Timestamp, env.Timestamp) || len(chunk) >= maxEventsPerObject) {
				if err := flush(); err != nil {
					return uploaded, err
				}
			}
			chunk = append(chunk, env)
		}
		if len(page) < a.pageSize {
			break
		}
		offset += len(page)
	}
	if err := flush(); err != nil {
		return uploaded, err
	}
	if uploaded == 0 {
		return 0, nil
	}

	deleted, err := a.log.DeleteBefore(ctx, before)
	if err != nil {
		return uploaded, fmt.Errorf("s3blob: archive events delete: %w", err)
	}
	if deleted != uploaded {
		a.logger.Warn("archived and deleted counts differ",
			slog.Int64("uploaded", uploaded),
			slog.Int64("deleted", deleted),
		)
	}
	a.logger.Info("events archived",
		slog.Int64("count", uploaded),
		slog.String("before", before.UTC().Format(time.RFC3339)),
	)
	return uploaded, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, events []domain.EventEnvelope) error {
	path := archivePath(events[0])
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive events check %s: %w", path, err)
	}
	if exists {
		stored, err := a.storedIDs(ctx, path)
		if err != nil {
			return err
		}
		switch {
		case len(stored) == len(events) && isPrefix(stored, events):
			// Written by a run that failed before deleting.
			a.logger.Debug("archive object already written", slog.String("path", path), slog.Int("events", len(events)))
			return nil
		case len(stored) < len(events) && isPrefix(stored, events):
			// The chunk grew since that run; replace it with the superset.
		default:
			return fmt.Errorf("s3blob: archive events: refusing to overwrite %s", path)
		}
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	if mp, ok := a.writer.(multipartWriter); ok && int64(len(buf)) > minPartSize {
		err = mp.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	a.logger.Debug("archive object written", slog.String("path", path), slog.Int("events", len(events)))
	return nil
}

func (a *ArchiveImpl) storedIDs(ctx context.Context, path string) ([]string, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive events read %s: %w", path, err)
	}
	defer body.Close()
	stored, err := unmarshalJSONL(body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive events decode %s: %w", path, err)
	}
	ids := make([]string, len(stored))
	for i, env := range stored {
		ids[i] = env.ID
	}
	return ids, nil
}

// isPrefix reports whether ids are the ids of the first len(ids) events.
func isPrefix(ids []string, events []domain.EventEnvelope) bool {
	if len(ids) > len(events) {
		return false
	}
	for i, id := range ids {
		if events[i].ID != id {
			return false
		}
	}
	return true
}

// Load returns every archived event of the UTC day containing day, oldest
// first.
func (a *ArchiveImpl) Load(ctx context.Context, day time.Time) ([]domain.EventEnvelope, error) {
	infos, err := a.reader.List(ctx, dayPrefix(day))
	if err != nil {
		return nil, fmt.Errorf("s3blob: load archive: %w", err)
	}

	var events []domain.EventEnvelope
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".jsonl") {
			continue
		}
		body, err := a.reader.Get(ctx, info.Path)
		if err != nil {
			return nil, fmt.Errorf("s3blob: load archive: %w", err)
		}
		part, err := unmarshalJSONL(body)
		_ = body.Close()
		if err != nil {
			return nil, fmt.Errorf("s3blob: load archive %s: %w", info.Path, err)
		}
		events = append(events, part...)
	}
	return events, nil
}

// dayPrefix is the object prefix of a UTC day, events/YYYY/MM/DD/.
func dayPrefix(t time.Time) string {
	return archivePrefix + t.UTC().Format("2006/01/02") + "/"
}

// archivePath names the object holding a chunk by its first event, so
// re-running an interrupted archive hits the same path.
//
//	events/2026/03/01/1772366400000000000-<event id>.jsonl
func archivePath(first domain.EventEnvelope) string {
	return fmt.Sprintf("%s%d-%s.jsonl", dayPrefix(first.Timestamp), first.Timestamp.UnixNano(), first.ID)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalJSONL(r io.Reader) ([]domain.EventEnvelope, error) {
	var out []domain.EventEnvelope
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var env domain.EventEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("jsonl decode line %d: %w", len(out)+1, err)
		}
		out = append(out, env)
	}
	return out, sc.Err()
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
