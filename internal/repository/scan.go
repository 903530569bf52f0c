package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/catscan/internal/model"
)

// ScanRepository wraps all SQL used by the api and the worker.
type ScanRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewScanRepository constructs a repository.
func NewScanRepository(pool *pgxpool.Pool) *ScanRepository {
	return &ScanRepository{pool: pool, now: time.Now}
}

const selectColumns = `
	scan_id, status, image_ref, content_type, user_id, filename,
	cats_found, cat_count, highest_confidence, all_labels, cat_labels,
	error_message, created_at, updated_at, completed_at`

// Create inserts a PENDING record.
func (r *ScanRepository) Create(ctx context.Context, scan *model.Scan) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scans (scan_id, status, image_ref, content_type, user_id, filename, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8)
	`, scan.ID, string(scan.Status), scan.ImageRef, scan.ContentType, scan.UserID, scan.Filename, scan.CreatedAt, scan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

// Import writes a complete record, typically decoded from a legacy export.
// Existing identifiers are left untouched; the returned flag reports whether
// a row was inserted.
func (r *ScanRepository) Import(ctx context.Context, scan *model.Scan) (bool, error) {
	var (
		catsFound  *bool
		catCount   *int
		confidence *float64
		allLabels  []byte
		catLabels  []byte
		errMsg     *string
	)
	if scan.Result != nil {
		res := scan.Result
		catsFound, catCount, confidence = &res.CatsFound, &res.CatCount, &res.HighestConfidence
		var err error
		if allLabels, err = json.Marshal(nonNil(res.Labels)); err != nil {
			return false, fmt.Errorf("encode labels: %w", err)
		}
		if catLabels, err = json.Marshal(nonNil(res.CatLabels)); err != nil {
			return false, fmt.Errorf("encode cat labels: %w", err)
		}
	}
	if scan.ErrorMessage != "" {
		errMsg = &scan.ErrorMessage
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO scans (scan_id, status, image_ref, content_type, user_id, filename,
			cats_found, cat_count, highest_confidence, all_labels, cat_labels,
			error_message, created_at, updated_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (scan_id) DO NOTHING
	`, scan.ID, string(scan.Status), scan.ImageRef, scan.ContentType, scan.UserID, scan.Filename,
		catsFound, catCount, confidence, allLabels, catLabels,
		errMsg, scan.CreatedAt, scan.UpdatedAt, scan.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("import scan: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns a scan by id or model.ErrNotFound.
func (r *ScanRepository) Get(ctx context.Context, id string) (*model.Scan, error) {
	var (
		scan        model.Scan
		status      string
		filename    *string
		catsFound   *bool
		catCount    *int32
		confidence  pgtype.Numeric
		allLabels   []byte
		catLabels   []byte
		errorMsg    *string
		completedAt *time.Time
	)
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM scans WHERE scan_id=$1`, id)
	err := row.Scan(&scan.ID, &status, &scan.ImageRef, &scan.ContentType, &scan.UserID, &filename,
		&catsFound, &catCount, &confidence, &allLabels, &catLabels,
		&errorMsg, &scan.CreatedAt, &scan.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("select scan: %w", err)
	}
	if scan.Status, err = model.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("scan %s: %w", id, err)
	}
	if filename != nil {
		scan.Filename = *filename
	}
	if errorMsg != nil {
		scan.ErrorMessage = *errorMsg
	}
	scan.CreatedAt = scan.CreatedAt.UTC()
	scan.UpdatedAt = scan.UpdatedAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		scan.CompletedAt = &t
	}
	if scan.Status == model.StatusCompleted {
		res := model.Result{}
		if catsFound != nil {
			res.CatsFound = *catsFound
		}
		if catCount != nil {
			res.CatCount = int(*catCount)
		}
		// NUMERIC comes back as an exact decimal; the API speaks float64.
		f, err := confidence.Float64Value()
		if err != nil {
			return nil, fmt.Errorf("scan %s: decode highest_confidence: %w", id, err)
		}
		if f.Valid {
			res.HighestConfidence = f.Float64
		}
		if res.Labels, err = decodeLabels(allLabels); err != nil {
			return nil, fmt.Errorf("scan %s: decode all_labels: %w", id, err)
		}
		if res.CatLabels, err = decodeLabels(catLabels); err != nil {
			return nil, fmt.Errorf("scan %s: decode cat_labels: %w", id, err)
		}
		scan.Result = &res
	}
	return &scan, nil
}

// MarkProcessing sets the status to PROCESSING unless the scan is terminal.
func (r *ScanRepository) MarkProcessing(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scans SET status='PROCESSING', updated_at=$2
		WHERE scan_id=$1 AND status IN ('PENDING','PROCESSING')
	`, id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missed(ctx, id)
	}
	return nil
}

// Finish writes the terminal outcome in a single statement guarded by the
// current status, so a terminal record is never overwritten.
func (r *ScanRepository) Finish(ctx context.Context, id string, outcome model.Outcome) error {
	now := r.now().UTC()
	var (
		tag pgconn.CommandTag
		err error
	)
	switch o := outcome.(type) {
	case model.Completed:
		allLabels, merr := json.Marshal(nonNil(o.Result.Labels))
		if merr != nil {
			return fmt.Errorf("encode labels: %w", merr)
		}
		catLabels, merr := json.Marshal(nonNil(o.Result.CatLabels))
		if merr != nil {
			return fmt.Errorf("encode cat labels: %w", merr)
		}
		tag, err = r.pool.Exec(ctx, `
			UPDATE scans SET status='COMPLETED',
				cats_found=$2, cat_count=$3, highest_confidence=$4,
				all_labels=$5, cat_labels=$6, error_message=NULL,
				updated_at=$7, completed_at=$7
			WHERE scan_id=$1 AND status='PROCESSING'
		`, id, o.Result.CatsFound, o.Result.CatCount, o.Result.HighestConfidence, allLabels, catLabels, now)
	case model.Failed:
		tag, err = r.pool.Exec(ctx, `
			UPDATE scans SET status='FAILED', error_message=$2, updated_at=$3
			WHERE scan_id=$1 AND status IN ('PENDING','PROCESSING')
		`, id, o.Message, now)
	default:
		return fmt.Errorf("%w: unsupported outcome %T", model.ErrInvalidTransition, outcome)
	}
	if err != nil {
		return fmt.Errorf("finish scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missed(ctx, id)
	}
	return nil
}

// missed explains why a guarded update touched no row.
func (r *ScanRepository) missed(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM scans WHERE scan_id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select scan status: %w", err)
	}
	if st, perr := model.ParseStatus(status); perr == nil && st.Terminal() {
		return model.ErrTerminal
	}
	return fmt.Errorf("%w: scan %s in status %s", model.ErrInvalidTransition, id, status)
}

func decodeLabels(raw []byte) ([]model.Label, error) {
	labels := []model.Label{}
	if len(raw) == 0 {
		return labels, nil
	}
	if err := json.Unmarshal(raw, &labels); err != nil {
		return nil, err
	}
	if labels == nil {
		labels = []model.Label{}
	}
	return labels, nil
}

func nonNil(labels []model.Label) []model.Label {
	if labels == nil {
		return []model.Label{}
	}
	return labels
}
