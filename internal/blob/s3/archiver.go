package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// SettlementSource lists settlements old enough to archive.
type SettlementSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error)
}

// SettlementPruner deletes settlements once they are safely archived.
type SettlementPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SettlementArchiver implements domain.Archiver: it exports settlements
// older than a cutoff as JSONL and, when a pruner is set, removes them from
// the primary store after the upload succeeds.
type SettlementArchiver struct {
	writer domain.BlobWriter
	source SettlementSource
	pruner SettlementPruner
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates a SettlementArchiver. pruner and audit may be nil.
func NewArchiver(writer domain.BlobWriter, source SettlementSource, pruner SettlementPruner, audit domain.AuditStore) *SettlementArchiver {
	return &SettlementArchiver{
		writer: writer,
		source: source,
		pruner: pruner,
		audit:  audit,
		now:    time.Now,
	}
}

// ArchiveSettlements uploads every settlement settled before the cutoff and
// returns how many were archived.
func (a *SettlementArchiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.source.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := archivePath("settlements", before, a.now())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}
	count := int64(len(records))

	var pruned int64
	if a.pruner != nil {
		if pruned, err = a.pruner.DeleteBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: prune archived settlements: %w", err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
			"path":   path,
			"count":  count,
			"pruned": pruned,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath partitions by cutoff month and names the file by run time:
//
//	archive/settlements/2025-01/20250201T000000Z.jsonl
func archivePath(kind string, before, ranAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind,
		before.UTC().Format("2006-01"), ranAt.UTC().Format("20060102T150405Z"))
}

// marshalJSONL writes one compact JSON document per line.
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

var _ domain.Archiver = (*SettlementArchiver)(nil)
