package archive

// Schema contains the DDL for the archive tables.
const Schema = `
-- Screenshots: raster stored zstd-compressed, metadata as JSON
CREATE TABLE IF NOT EXISTS screenshots (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    viewport_key TEXT NOT NULL,
    url          TEXT NOT NULL,
    selector     TEXT NOT NULL DEFAULT '',
    engine       TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    mime         TEXT NOT NULL,
    raster       BLOB NOT NULL,
    raster_size  INTEGER NOT NULL,
    meta         TEXT NOT NULL DEFAULT '{}',
    taken_at     INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_screenshots_dedup ON screenshots(name, viewport_key, content_hash);
CREATE INDEX IF NOT EXISTS idx_screenshots_name ON screenshots(name, taken_at DESC);

-- Baselines: the approved screenshot per name and viewport
CREATE TABLE IF NOT EXISTS baselines (
    name          TEXT NOT NULL,
    viewport_key  TEXT NOT NULL,
    screenshot_id TEXT NOT NULL REFERENCES screenshots(id),
    approved_at   INTEGER NOT NULL,
    PRIMARY KEY (name, viewport_key)
);

-- Diffs: report JSON stored zstd-compressed, digest over canonical JSON
CREATE TABLE IF NOT EXISTS diffs (
    id             TEXT PRIMARY KEY,
    baseline_id    TEXT NOT NULL,
    comparison_id  TEXT NOT NULL,
    status         TEXT NOT NULL,
    percentage     REAL NOT NULL,
    regions        INTEGER NOT NULL,
    digest         TEXT NOT NULL DEFAULT '',
    report         BLOB NOT NULL,
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diffs_baseline ON diffs(baseline_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_diffs_created ON diffs(created_at);
`
