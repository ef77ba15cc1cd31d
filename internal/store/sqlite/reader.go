package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"alpha-engine/internal/model"
)

// Reader provides read-only access to stored bars and results.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ListKeys returns the instrument keys that have bars for tf, sorted.
func (r *Reader) ListKeys(tf int) ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT key FROM bars WHERE tf = ? ORDER BY key`, tf)
	if err != nil {
		return nil, fmt.Errorf("sqlite list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ReadBars reads bars for keys and tf with ts in [fromTS, toTS], ordered by
// key then timestamp. A zero bound is open.
func (r *Reader) ReadBars(keys []string, tf int, fromTS, toTS int64) ([]model.Bar, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if toTS <= 0 {
		toTS = 1<<63 - 1
	}

	args := make([]any, 0, len(keys)+3)
	args = append(args, tf, fromTS, toTS)
	for _, k := range keys {
		args = append(args, k)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")

	rows, err := r.db.Query(`
		SELECT key, tf, ts, open, high, low, close, volume
		FROM bars
		WHERE tf = ? AND ts >= ? AND ts <= ? AND key IN (`+placeholders+`)
		ORDER BY key, ts ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		var volume sql.NullInt64
		if err := rows.Scan(&b.Key, &b.TF, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		b.Volume = volume.Int64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadFrame loads bars for keys and aligns every instrument onto the union
// of their timestamps. Gaps become missing values.
func (r *Reader) ReadFrame(keys []string, tf int, fromTS, toTS int64) (*model.Frame, error) {
	bars, err := r.ReadBars(keys, tf, fromTS, toTS)
	if err != nil {
		return nil, err
	}
	return model.BuildFrame(keys, tf, bars), nil
}

// ReadResult loads the most recently stored result for name, or nil.
func (r *Reader) ReadResult(name string) (*model.IndicatorSeries, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM indicator_results
		WHERE name = ?
		ORDER BY id DESC
		LIMIT 1
	`, name).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read result %s: %w", name, err)
	}

	var res model.IndicatorSeries
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", name, err)
	}
	return &res, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
