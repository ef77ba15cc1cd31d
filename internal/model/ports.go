package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the service from concrete storage
// implementations (SQLite, Redis).

// FrameReader loads aligned multi-instrument frames.
type FrameReader interface {
	// ListKeys returns the instrument keys that have bars for tf.
	ListKeys(tf int) ([]string, error)

	// ReadFrame loads bars for keys in [fromTS, toTS] (unix seconds, 0 = open)
	// and aligns them into a Frame.
	ReadFrame(keys []string, tf int, fromTS, toTS int64) (*Frame, error)

	Close() error
}

// ResultWriter persists computed indicator series.
type ResultWriter interface {
	SaveResults(results []IndicatorSeries) error
	Close() error
}

// ResultPublisher pushes computed indicator series to live consumers.
type ResultPublisher interface {
	PublishResults(ctx context.Context, results []IndicatorSeries) error
	Close() error
}
