package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/dbopen"
)

// DiffInfo is a diff listing entry without the full report.
type DiffInfo struct {
	ID           string          `json:"id"`
	BaselineID   string          `json:"baseline_id"`
	ComparisonID string          `json:"comparison_id"`
	Status       artifact.Status `json:"status"`
	Percentage   float64         `json:"percentage_changed"`
	Regions      int             `json:"regions"`
	Digest       string          `json:"digest,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// PutDiff stores a diff report with its digest.
func (s *Store) PutDiff(ctx context.Context, d *artifact.VisualDiff, digest string) error {
	report, err := artifact.MarshalDiff(d)
	if err != nil {
		return fmt.Errorf("archive: put diff %s: %w", d.ID, err)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO diffs
			(id, baseline_id, comparison_id, status, percentage, regions, digest, report, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.BaselineID, d.ComparisonID, string(d.Status), d.Metrics.PercentageChanged,
		d.Metrics.Regions, digest, compress(report), d.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive: put diff %s: %w", d.ID, err)
	}
	return nil
}

// GetDiff loads a full diff report.
func (s *Store) GetDiff(ctx context.Context, id string) (*artifact.VisualDiff, error) {
	var report []byte
	err := s.DB.QueryRowContext(ctx, `SELECT report FROM diffs WHERE id = ?`, id).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get diff: %w", err)
	}
	raw, err := decompress(report)
	if err != nil {
		return nil, err
	}
	return artifact.UnmarshalDiff(raw)
}

// ListDiffs returns diffs against baselineID, newest first. An empty
// baselineID lists all diffs.
func (s *Store) ListDiffs(ctx context.Context, baselineID string, limit int) ([]*DiffInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, baseline_id, comparison_id, status, percentage, regions, digest, created_at
		FROM diffs
		WHERE ? = '' OR baseline_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, baselineID, baselineID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list diffs: %w", err)
	}
	defer rows.Close()

	var items []*DiffInfo
	for rows.Next() {
		it := &DiffInfo{}
		var status string
		var createdAt int64
		if err := rows.Scan(&it.ID, &it.BaselineID, &it.ComparisonID, &status, &it.Percentage, &it.Regions, &it.Digest, &createdAt); err != nil {
			return nil, err
		}
		it.Status = artifact.Status(status)
		it.CreatedAt = time.UnixMilli(createdAt).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

// Prune deletes diffs and non-baseline screenshots taken before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (screenshots, diffs int64, err error) {
	ms := cutoff.UnixMilli()
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM diffs WHERE created_at < ?`, ms)
		if err != nil {
			return err
		}
		diffs, _ = res.RowsAffected()
		res, err = tx.ExecContext(ctx, `
			DELETE FROM screenshots
			WHERE taken_at < ? AND id NOT IN (SELECT screenshot_id FROM baselines)`, ms)
		if err != nil {
			return err
		}
		screenshots, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("archive: prune: %w", err)
	}
	return screenshots, diffs, nil
}
