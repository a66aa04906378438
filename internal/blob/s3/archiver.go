package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the domain stores for a
// time range, serializing the rows to JSONL, and uploading the result to S3.
//
// Fill and claim rows stay in Postgres after archival; only the audit log is
// pruned, and only after its archive upload has succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	fills  domain.FillStore
	claims domain.ClaimStore
	audit  domain.AuditStore
}

// multipartThreshold is the export size above which uploads switch to the
// multipart path.
const multipartThreshold = 32 << 20

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, fills domain.FillStore, claims domain.ClaimStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		fills:  fills,
		claims: claims,
		audit:  audit,
	}
}

// archivedFill is the JSONL form of a fill. Big integers are serialized as
// decimal strings so downstream tooling never loses precision to floats.
type archivedFill struct {
	ID          string    `json:"id"`
	OrderHash   string    `json:"orderHash"`
	Trader      string    `json:"trader"`
	Taker       string    `json:"taker"`
	QuestionID  string    `json:"questionId"`
	ConditionID string    `json:"conditionId"`
	Epoch       uint64    `json:"epoch"`
	Outcome     uint8     `json:"outcome"`
	Side        string    `json:"side"`
	Amount      string    `json:"amount"`
	Price       int64     `json:"price"`
	Fee         string    `json:"fee"`
	Mode        string    `json:"mode"`
	CreatedAt   time.Time `json:"createdAt"`
}

type archivedClaim struct {
	ID          string    `json:"id"`
	Claimer     string    `json:"claimer"`
	QuestionID  string    `json:"questionId"`
	ConditionID string    `json:"conditionId"`
	Epoch       uint64    `json:"epoch"`
	Outcome     uint8     `json:"outcome"`
	Burned      string    `json:"burned"`
	Net         string    `json:"net"`
	Fee         string    `json:"fee"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ArchiveFills uploads all fills in [since, until) to
// archive/fills/YYYY-MM.jsonl and records the upload in the audit log.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, since, until time.Time) (int64, error) {
	fills, err := a.fills.ListBetween(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	records := make([]archivedFill, len(fills))
	for i, f := range fills {
		records[i] = archivedFill{
			ID:          f.ID,
			OrderHash:   f.OrderHash.Hex(),
			Trader:      f.Trader.Hex(),
			Taker:       f.Taker.Hex(),
			QuestionID:  f.QuestionID.Hex(),
			ConditionID: f.ConditionID.Hex(),
			Epoch:       f.Epoch,
			Outcome:     f.Outcome,
			Side:        string(f.Side),
			Amount:      bigString(f.Amount),
			Price:       f.Price,
			Fee:         bigString(f.Fee),
			Mode:        string(f.Mode),
			CreatedAt:   f.CreatedAt,
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	path := archivePath("fills", until)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	count := int64(len(fills))
	if err := a.audit.Log(ctx, "archive.fills", map[string]any{
		"path":  path,
		"count": count,
		"since": since.Format(time.RFC3339),
		"until": until.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive fills audit log: %w", err)
	}
	return count, nil
}

// ArchiveClaims uploads all claim receipts in [since, until) to
// archive/claims/YYYY-MM.jsonl and records the upload in the audit log.
func (a *ArchiveImpl) ArchiveClaims(ctx context.Context, since, until time.Time) (int64, error) {
	claims, err := a.claims.ListBetween(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive claims query: %w", err)
	}
	if len(claims) == 0 {
		return 0, nil
	}

	records := make([]archivedClaim, len(claims))
	for i, c := range claims {
		records[i] = archivedClaim{
			ID:          c.ID,
			Claimer:     c.Claimer.Hex(),
			QuestionID:  c.QuestionID.Hex(),
			ConditionID: c.ConditionID.Hex(),
			Epoch:       c.Epoch,
			Outcome:     c.Outcome,
			Burned:      bigString(c.Burned),
			Net:         bigString(c.Net),
			Fee:         bigString(c.Fee),
			CreatedAt:   c.CreatedAt,
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive claims marshal: %w", err)
	}

	path := archivePath("claims", until)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive claims upload: %w", err)
	}

	count := int64(len(claims))
	if err := a.audit.Log(ctx, "archive.claims", map[string]any{
		"path":  path,
		"count": count,
		"since": since.Format(time.RFC3339),
		"until": until.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive claims audit log: %w", err)
	}
	return count, nil
}

// ArchiveAudit uploads all audit rows before the cutoff to
// archive/audit/YYYY-MM.jsonl, then deletes the archived rows. Deletion only
// happens after the upload succeeded.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	// Read back the object before pruning; the prune is irreversible.
	ok, err := a.reader.Exists(ctx, path)
	if err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit verify: %w", err)
	}
	if !ok {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit verify: object %s missing after upload", path)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":    path,
		"count":   len(entries),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return int64(len(entries)), nil
}

// upload sends one export to object storage, switching to multipart for
// oversized months.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/fills/2026-01.jsonl
//	archive/claims/2026-01.jsonl
//	archive/audit/2026-01.jsonl
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
