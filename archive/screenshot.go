package archive

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/dbopen"
)

// screenshotMeta is the JSON column holding everything not indexed.
type screenshotMeta struct {
	Viewport artifact.Viewport `json:"viewport"`
	Metadata artifact.Metadata `json:"metadata"`
	Tags     []string          `json:"tags,omitempty"`
}

// ScreenshotInfo is a screenshot listing entry without raster data.
type ScreenshotInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ViewportKey string    `json:"viewport_key"`
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	Size        int       `json:"size"`
	TakenAt     time.Time `json:"taken_at"`
}

// PutScreenshot stores s. When a screenshot with the same name, viewport
// and content hash exists, nothing is written and the existing id is
// returned with created == false.
func (s *Store) PutScreenshot(ctx context.Context, shot *artifact.Screenshot) (id string, created bool, err error) {
	mime, raw, err := artifact.DecodeDataURL(shot.RasterData)
	if err != nil {
		return "", false, fmt.Errorf("archive: put screenshot %s: %w", shot.ID, err)
	}
	meta, err := json.Marshal(screenshotMeta{Viewport: shot.Viewport, Metadata: shot.Metadata, Tags: shot.Tags})
	if err != nil {
		return "", false, fmt.Errorf("archive: put screenshot %s: %w", shot.ID, err)
	}
	vk := shot.Viewport.Key()

	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM screenshots
			WHERE name = ? AND viewport_key = ? AND content_hash = ?`,
			shot.Name, vk, shot.Metadata.ContentHash).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO screenshots
				(id, name, viewport_key, url, selector, engine, content_hash,
				 mime, raster, raster_size, meta, taken_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			shot.ID, shot.Name, vk, shot.URL, shot.Selector, string(shot.BrowserEngine),
			shot.Metadata.ContentHash, mime, compress(raw), len(raw), string(meta),
			shot.Timestamp.UnixMilli(),
		)
		if err != nil {
			return err
		}
		id, created = shot.ID, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("archive: put screenshot %s: %w", shot.ID, err)
	}
	return id, created, nil
}

// GetScreenshot loads a screenshot with its raster.
func (s *Store) GetScreenshot(ctx context.Context, id string) (*artifact.Screenshot, error) {
	return s.scanScreenshot(s.DB.QueryRowContext(ctx, `
		SELECT id, name, url, selector, engine, mime, raster, meta, taken_at
		FROM screenshots WHERE id = ?`, id))
}

func (s *Store) scanScreenshot(row *sql.Row) (*artifact.Screenshot, error) {
	var (
		shot       artifact.Screenshot
		engine     string
		mime, meta string
		raster     []byte
		takenAt    int64
	)
	err := row.Scan(&shot.ID, &shot.Name, &shot.URL, &shot.Selector, &engine, &mime, &raster, &meta, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get screenshot: %w", err)
	}
	raw, err := decompress(raster)
	if err != nil {
		return nil, err
	}
	var m screenshotMeta
	if err := json.Unmarshal([]byte(meta), &m); err != nil {
		return nil, fmt.Errorf("archive: screenshot %s meta: %w", shot.ID, err)
	}
	shot.BrowserEngine = artifact.Engine(engine)
	shot.Viewport = m.Viewport
	shot.Metadata = m.Metadata
	shot.Tags = m.Tags
	shot.Timestamp = time.UnixMilli(takenAt).UTC()
	shot.RasterData = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
	return &shot, nil
}

// ListScreenshots returns the most recent screenshots named name, newest
// first. An empty name lists all names.
func (s *Store) ListScreenshots(ctx context.Context, name string, limit int) ([]*ScreenshotInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, viewport_key, url, content_hash, raster_size, taken_at
		FROM screenshots
		WHERE ? = '' OR name = ?
		ORDER BY taken_at DESC, id DESC LIMIT ?`, name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list screenshots: %w", err)
	}
	defer rows.Close()

	var items []*ScreenshotInfo
	for rows.Next() {
		it := &ScreenshotInfo{}
		var takenAt int64
		if err := rows.Scan(&it.ID, &it.Name, &it.ViewportKey, &it.URL, &it.ContentHash, &it.Size, &takenAt); err != nil {
			return nil, err
		}
		it.TakenAt = time.UnixMilli(takenAt).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetBaseline approves a stored screenshot as the baseline for its name
// and viewport.
func (s *Store) SetBaseline(ctx context.Context, screenshotID string) error {
	var name, vk string
	err := s.DB.QueryRowContext(ctx, `SELECT name, viewport_key FROM screenshots WHERE id = ?`, screenshotID).Scan(&name, &vk)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("archive: set baseline: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO baselines (name, viewport_key, screenshot_id, approved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name, viewport_key) DO UPDATE SET
			screenshot_id = excluded.screenshot_id,
			approved_at = excluded.approved_at`,
		name, vk, screenshotID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("archive: set baseline: %w", err)
	}
	return nil
}

// Baseline returns the approved screenshot for name and viewport key.
func (s *Store) Baseline(ctx context.Context, name, viewportKey string) (*artifact.Screenshot, error) {
	return s.scanScreenshot(s.DB.QueryRowContext(ctx, `
		SELECT s.id, s.name, s.url, s.selector, s.engine, s.mime, s.raster, s.meta, s.taken_at
		FROM baselines b JOIN screenshots s ON s.id = b.screenshot_id
		WHERE b.name = ? AND b.viewport_key = ?`, name, viewportKey))
}
