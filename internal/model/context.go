package model

import (
	"encoding/json"

	"alpha-engine/internal/alpha"
)

// ContextUpdate is the wire form of a computation context, shared by the
// HTTP API and the Redis config channel. Flags takes the names accepted by
// alpha.ParseFlags ("none", "skip_nan", "strictly_cycle") or an integer mask.
type ContextUpdate struct {
	Flags  string `json:"flags"`
	Groups int    `json:"groups"`
}

// Context validates the update and builds the corresponding alpha.Context.
func (u ContextUpdate) Context() (alpha.Context, error) {
	flags, err := alpha.ParseFlags(u.Flags)
	if err != nil {
		return alpha.Context{}, err
	}
	return alpha.NewContextFromFlags(flags, u.Groups)
}

// ContextView is the JSON description of an active context.
// EffectiveGroups is set when computations over instrument frames run with
// a different group count (one group per instrument) than Groups.
type ContextView struct {
	Policy          string `json:"policy"`
	Flags           string `json:"flags"`
	Groups          int    `json:"groups"`
	EffectiveGroups int    `json:"effective_groups,omitempty"`
}

// ViewOf describes c.
func ViewOf(c alpha.Context) ContextView {
	return ContextView{
		Policy: c.Policy().String(),
		Flags:  c.Policy().Flags().String(),
		Groups: c.Groups(),
	}
}

// WithEffectiveGroups records the group count computations actually use.
// frameGroups <= 0 means unknown.
func (v ContextView) WithEffectiveGroups(frameGroups int) ContextView {
	if frameGroups > 0 && frameGroups != v.Groups {
		v.EffectiveGroups = frameGroups
	}
	return v
}

// UpdateOf returns the update that reproduces c.
func UpdateOf(c alpha.Context) ContextUpdate {
	return ContextUpdate{Flags: c.Policy().Flags().String(), Groups: c.Groups()}
}

// JSON returns the JSON-encoded update.
func (u ContextUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}
