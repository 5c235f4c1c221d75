package pattern

import (
	"errors"
	"sort"
	"time"
)

// Kind tags the shape of a pattern group. The six values combine
// {single|multiple pattern types} x {single|multiple timeframes} x
// {single|multiple observation cycles}; the first four are single-cycle.
type Kind string

const (
	// KindSingleSingle holds one pattern type on one timeframe in one cycle.
	KindSingleSingle Kind = "single_single"
	// KindMultiSingle holds multiple pattern types on one timeframe in one cycle.
	KindMultiSingle Kind = "multi_single"
	// KindSingleMulti holds one pattern type across multiple timeframes in one cycle.
	KindSingleMulti Kind = "single_multi"
	// KindMultiMulti holds multiple types across multiple timeframes in one cycle.
	KindMultiMulti Kind = "multi_multi"
	// KindSingleSingleMultiCycle holds one type on one timeframe across cycles.
	KindSingleSingleMultiCycle Kind = "single_single_multi_cycle"
	// KindMultiMultiCycle holds all of an asset's patterns across cycles.
	KindMultiMultiCycle Kind = "multi_multi_cycle"
)

// Kinds lists every group kind in taxonomy order.
func Kinds() []Kind {
	return []Kind{
		KindSingleSingle,
		KindMultiSingle,
		KindSingleMulti,
		KindMultiMulti,
		KindSingleSingleMultiCycle,
		KindMultiMultiCycle,
	}
}

// IsValid reports whether k is one of the six taxonomy kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindSingleSingle, KindMultiSingle, KindSingleMulti, KindMultiMulti,
		KindSingleSingleMultiCycle, KindMultiMultiCycle:
		return true
	}
	return false
}

// CycleSensitive reports whether the kind embeds the distinct-cycle count
// in its signature instead of being pinned to a single cycle.
func (k Kind) CycleSensitive() bool {
	return k == KindSingleSingleMultiCycle || k == KindMultiMultiCycle
}

var (
	// ErrEmptyGroup rejects groups with no member patterns.
	ErrEmptyGroup = errors.New("group has no patterns")
	// ErrMissingAsset rejects groups without an asset.
	ErrMissingAsset = errors.New("group has no asset")
	// ErrMixedAssets rejects member patterns spanning more than one asset.
	ErrMixedAssets = errors.New("group patterns span multiple assets")
	// ErrUnknownKind rejects groups tagged outside the six taxonomy kinds.
	ErrUnknownKind = errors.New("unknown group kind")
)

// Group is a derived, ephemeral collection of patterns sharing one asset.
// Groups are recomputed every analysis cycle and never persisted directly;
// only their signature and eventual outcome are. Timeframe is zero for
// multi-timeframe kinds and CycleTime is zero for multi-cycle kinds.
type Group struct {
	Kind      Kind      `json:"kind"`
	Asset     string    `json:"asset"`
	Timeframe Timeframe `json:"timeframe,omitempty"`
	CycleTime time.Time `json:"cycle_time,omitempty"`
	Patterns  []Pattern `json:"patterns"`
}

// Validate rejects malformed groups before any signature computation.
func (g Group) Validate() error {
	if len(g.Patterns) == 0 {
		return ErrEmptyGroup
	}
	if g.Asset == "" {
		return ErrMissingAsset
	}
	if !g.Kind.IsValid() {
		return ErrUnknownKind
	}
	for _, p := range g.Patterns {
		if p.Asset != g.Asset {
			return ErrMixedAssets
		}
	}
	return nil
}

// PatternTypes returns the sorted distinct pattern types in the group.
func (g Group) PatternTypes() []string {
	seen := make(map[string]struct{}, len(g.Patterns))
	for _, p := range g.Patterns {
		seen[p.PatternType] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Timeframes returns the sorted distinct timeframes in the group.
func (g Group) Timeframes() []Timeframe {
	seen := make(map[Timeframe]struct{}, len(g.Patterns))
	for _, p := range g.Patterns {
		seen[p.Timeframe] = struct{}{}
	}
	tfs := make([]Timeframe, 0, len(seen))
	for tf := range seen {
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Hours() < tfs[j].Hours() })
	return tfs
}

// CycleCount returns the number of distinct observation cycles represented.
func (g Group) CycleCount() int {
	seen := make(map[int64]struct{}, len(g.Patterns))
	for _, p := range g.Patterns {
		seen[p.CycleTime.UnixNano()] = struct{}{}
	}
	return len(seen)
}

// LongestTimeframe returns the widest bar interval in the group. Used as
// the prediction horizon anchor for multi-timeframe kinds.
func (g Group) LongestTimeframe() Timeframe {
	var longest Timeframe
	for _, p := range g.Patterns {
		if p.Timeframe.Hours() > longest.Hours() {
			longest = p.Timeframe
		}
	}
	return longest
}

// PatternIDs returns the source IDs of all member patterns in order.
func (g Group) PatternIDs() []string {
	ids := make([]string, 0, len(g.Patterns))
	for _, p := range g.Patterns {
		ids = append(ids, p.SourceID)
	}
	return ids
}
