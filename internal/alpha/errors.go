package alpha

import (
	"errors"
	"math"
)

var (
	// ErrConfiguration reports an invalid group count, period, delay or a
	// series length that the group count does not divide.
	ErrConfiguration = errors.New("alpha: configuration error")

	// ErrAmbiguousPolicy reports a combination of settings or inputs whose
	// outcome is not defined (both window flags set, or missing values in a
	// percentile-rank partition outside SkipMissing).
	ErrAmbiguousPolicy = errors.New("alpha: ambiguous policy")

	// ErrLengthMismatch reports input series of unequal length.
	ErrLengthMismatch = errors.New("alpha: length mismatch")
)

// Missing returns the sentinel for an absent observation (NaN).
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is the missing sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

