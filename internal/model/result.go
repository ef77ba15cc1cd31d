package model

import (
	"encoding/json"
	"time"
)

// IndicatorSeries is one computed indicator over a whole frame. Values has
// the frame's length and layout (group g occupies [g*n/G, (g+1)*n/G)).
type IndicatorSeries struct {
	Name   string    `json:"name"` // e.g. "MA_20", "SLOPE_10", "RANK"
	TF     int       `json:"tf,omitempty"`
	Keys   []string  `json:"keys,omitempty"`
	Groups int       `json:"groups"`
	Policy string    `json:"policy"`
	Values Values    `json:"values"`
	TS     time.Time `json:"ts"` // computation time
}

// Group returns the slice of Values belonging to group g.
func (s *IndicatorSeries) Group(g int) Values {
	if s.Groups <= 0 || g < 0 || g >= s.Groups {
		return nil
	}
	size := len(s.Values) / s.Groups
	return s.Values[g*size : (g+1)*size]
}

// LatestKey returns the Redis key holding the most recent result.
func (s *IndicatorSeries) LatestKey() string {
	return "alpha:latest:" + s.Name
}

// PubSubChannel returns the Redis PubSub channel for live result fan-out.
func (s *IndicatorSeries) PubSubChannel() string {
	return "pub:alpha:" + s.Name
}

// JSON returns the JSON-encoded result.
func (s *IndicatorSeries) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
