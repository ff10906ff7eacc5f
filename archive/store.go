// Package archive persists screenshots, baselines and diff reports in
// SQLite. Raster bytes and reports are stored zstd-compressed.
package archive

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/visreg/dbopen"
)

// ErrNotFound is returned when a screenshot, baseline or diff does not exist.
var ErrNotFound = errors.New("archive: not found")

// Store is the archive database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the archive database at path and applies the
// schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func compress(b []byte) []byte {
	return encoder.EncodeAll(b, make([]byte, 0, len(b)/2))
}

func decompress(b []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: zstd: %w", err)
	}
	return out, nil
}
