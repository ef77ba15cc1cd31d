package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"alpha-engine/internal/model"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
	keepResultRuns    = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"
}

// Writer is the single SQLite writer for bars and computed results.
type Writer struct {
	db *sql.DB

	// OnCommit is called with the commit latency of every result batch.
	OnCommit func(d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			key    TEXT    NOT NULL,
			tf     INTEGER NOT NULL,
			ts     INTEGER NOT NULL,
			open   INTEGER NOT NULL,
			high   INTEGER NOT NULL,
			low    INTEGER NOT NULL,
			close  INTEGER NOT NULL,
			volume INTEGER,
			PRIMARY KEY (key, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_results (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL,
			tf         INTEGER NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_results_name ON indicator_results (name, id);
	`)
	return err
}

// SaveBars upserts bars in a single transaction.
func (w *Writer) SaveBars(bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (key, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(b.Key, b.TF, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s@%d: %w", b.Key, b.TS.Unix(), err)
		}
	}
	return tx.Commit()
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.SaveBars(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveResults stores each result as a JSON row and prunes every name
// down to its last keepResultRuns rows.
func (w *Writer) SaveResults(results []model.IndicatorSeries) error {
	if len(results) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for i := range results {
		r := &results[i]
		if _, err := tx.Exec(
			`INSERT INTO indicator_results (name, tf, data, created_at) VALUES (?, ?, ?, ?)`,
			r.Name, r.TF, string(r.JSON()), now,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert result %s: %w", r.Name, err)
		}
		if _, err := tx.Exec(`
			DELETE FROM indicator_results
			WHERE name = ? AND id NOT IN (
				SELECT id FROM indicator_results WHERE name = ? ORDER BY id DESC LIMIT ?
			)`, r.Name, r.Name, keepResultRuns); err != nil {
			log.Printf("[sqlite] prune results warning: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if w.OnCommit != nil {
		w.OnCommit(time.Since(start))
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
