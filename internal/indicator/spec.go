// Package indicator evaluates batches of indicator specs over a frame.
//
// A spec names one alpha computation ("MA:20", "SLOPE:10", "RANK",
// "FRET:1:3"). The Engine runs a batch of specs concurrently against one
// immutable alpha.Context snapshot.
package indicator

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Indicator types.
const (
	TypeMA        = "MA"
	TypeSlope     = "SLOPE"
	TypeIntercept = "INTERCEPT"
	TypeRank      = "RANK"
	TypeTsRank    = "TSRANK"
	TypeFRet      = "FRET"
)

// Spec specifies a single indicator to compute.
// Period is the window length (MA, SLOPE, INTERCEPT, TSRANK) or the holding
// periods (FRET). Delay is only used by FRET.
type Spec struct {
	Type   string `json:"type"`
	Period int    `json:"period,omitempty"`
	Delay  int    `json:"delay,omitempty"`
}

// Name returns the series name, e.g. "MA_20", "RANK", "FRET_1_3".
func (s Spec) Name() string {
	switch s.Type {
	case TypeRank:
		return s.Type
	case TypeFRet:
		return s.Type + "_" + strconv.Itoa(s.Delay) + "_" + strconv.Itoa(s.Period)
	default:
		return s.Type + "_" + strconv.Itoa(s.Period)
	}
}

// Validate checks one spec.
func (s Spec) Validate() error {
	switch s.Type {
	case TypeMA, TypeSlope, TypeIntercept, TypeTsRank:
		if s.Period <= 0 {
			return fmt.Errorf("invalid period=%d for %s", s.Period, s.Type)
		}
	case TypeRank:
	case TypeFRet:
		if s.Delay < 0 {
			return fmt.Errorf("invalid delay=%d for %s", s.Delay, s.Type)
		}
		if s.Period <= 0 {
			return fmt.Errorf("invalid periods=%d for %s", s.Period, s.Type)
		}
	default:
		return fmt.Errorf("unknown indicator type %q", s.Type)
	}
	return nil
}

// ValidateSpecs checks a set of specs for errors and duplicates.
func ValidateSpecs(specs []Spec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Name()] {
			return fmt.Errorf("duplicate indicator %s", s.Name())
		}
		seen[s.Name()] = true
	}
	return nil
}

// DefaultSpecs is used when no indicator list is configured.
func DefaultSpecs() []Spec {
	return []Spec{
		{Type: TypeMA, Period: 20},
		{Type: TypeSlope, Period: 10},
		{Type: TypeIntercept, Period: 10},
		{Type: TypeRank},
		{Type: TypeFRet, Delay: 1, Period: 1},
	}
}

// ParseSpecs parses "TYPE[:N[:M]],..." into specs, e.g.
// "MA:20,SLOPE:10,RANK,TSRANK:5,FRET:1:3". FRET takes delay then periods.
// Invalid entries are skipped with a log line; an empty or fully invalid
// input falls back to DefaultSpecs.
func ParseSpecs(s string) []Spec {
	if strings.TrimSpace(s) == "" {
		return DefaultSpecs()
	}

	var specs []Spec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := parseSpec(part)
		if err != nil {
			log.Printf("[indicator] skipping invalid indicator spec %q: %v", part, err)
			continue
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		log.Println("[indicator] WARNING: no valid indicators parsed, using defaults")
		return DefaultSpecs()
	}
	return specs
}

// ParseSpec parses a single "TYPE[:N[:M]]" entry, failing on any error.
func ParseSpec(part string) (Spec, error) {
	return parseSpec(strings.TrimSpace(part))
}

func parseSpec(part string) (Spec, error) {
	tokens := strings.Split(part, ":")
	spec := Spec{Type: strings.ToUpper(strings.TrimSpace(tokens[0]))}

	nums := make([]int, 0, 2)
	for _, tok := range tokens[1:] {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return Spec{}, err
		}
		nums = append(nums, n)
	}

	switch spec.Type {
	case TypeRank:
		if len(nums) != 0 {
			return Spec{}, fmt.Errorf("%s takes no arguments", spec.Type)
		}
	case TypeFRet:
		if len(nums) != 2 {
			return Spec{}, fmt.Errorf("%s needs delay and periods", spec.Type)
		}
		spec.Delay, spec.Period = nums[0], nums[1]
	default:
		if len(nums) != 1 {
			return Spec{}, fmt.Errorf("%s needs a period", spec.Type)
		}
		spec.Period = nums[0]
	}
	return spec, spec.Validate()
}
