package pattern

import (
	"fmt"
	"sort"
	"strconv"
)

// GroupAll partitions one asset's detected patterns into the six taxonomy
// shapes and returns the groups that survive each shape's retention filter,
// in taxonomy order with deterministic ordering inside each shape.
//
// The retention filters run after group construction, never instead of it:
// a shape that requires more than one pattern, timeframe, or cycle is built
// first and discarded after, so membership rules stay in one place. A
// singleton pattern set therefore only ever yields a single_single group.
func GroupAll(asset string, patterns []Pattern) ([]Group, error) {
	if asset == "" {
		return nil, ErrMissingAsset
	}
	for i, p := range patterns {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, p.SourceID, err)
		}
		if p.Asset != asset {
			return nil, fmt.Errorf("pattern %d (%s): %w", i, p.SourceID, ErrMixedAssets)
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	var groups []Group
	groups = append(groups, singleSingleGroups(asset, patterns)...)
	groups = append(groups, multiSingleGroups(asset, patterns)...)
	groups = append(groups, singleMultiGroups(asset, patterns)...)
	groups = append(groups, multiMultiGroups(asset, patterns)...)
	groups = append(groups, singleSingleMultiCycleGroups(asset, patterns)...)
	groups = append(groups, multiMultiCycleGroups(asset, patterns)...)
	return groups, nil
}

func cycleKey(p Pattern) string {
	return strconv.FormatInt(p.CycleTime.UnixNano(), 10)
}

// collect builds keyed groups, applies keep, and returns them sorted by key.
func collect(byKey map[string]*Group, keep func(*Group) bool) []Group {
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Group
	for _, k := range keys {
		if g := byKey[k]; keep(g) {
			out = append(out, *g)
		}
	}
	return out
}

// single_single: key (pattern_type, timeframe, cycle); every key survives,
// including size-one groups.
func singleSingleGroups(asset string, patterns []Pattern) []Group {
	byKey := make(map[string]*Group)
	for _, p := range patterns {
		k := p.PatternType + "|" + string(p.Timeframe) + "|" + cycleKey(p)
		g, ok := byKey[k]
		if !ok {
			g = &Group{Kind: KindSingleSingle, Asset: asset, Timeframe: p.Timeframe, CycleTime: p.CycleTime}
			byKey[k] = g
		}
		g.Patterns = append(g.Patterns, p)
	}
	return collect(byKey, func(*Group) bool { return true })
}

// multi_single: key (timeframe, cycle); kept only with more than one pattern.
func multiSingleGroups(asset string, patterns []Pattern) []Group {
	byKey := make(map[string]*Group)
	for _, p := range patterns {
		k := string(p.Timeframe) + "|" + cycleKey(p)
		g, ok := byKey[k]
		if !ok {
			g = &Group{Kind: KindMultiSingle, Asset: asset, Timeframe: p.Timeframe, CycleTime: p.CycleTime}
			byKey[k] = g
		}
		g.Patterns = append(g.Patterns, p)
	}
	return collect(byKey, func(g *Group) bool { return len(g.Patterns) > 1 })
}

// single_multi: key (pattern_type, cycle); kept only when spanning more
// than one distinct timeframe.
func singleMultiGroups(asset string, patterns []Pattern) []Group {
	byKey := make(map[string]*Group)
	for _, p := range patterns {
		k := p.PatternType + "|" + cycleKey(p)
		g, ok := byKey[k]
		if !ok {
			g = &Group{Kind: KindSingleMulti, Asset: asset, CycleTime: p.CycleTime}
			byKey[k] = g
		}
		g.Patterns = append(g.Patterns, p)
	}
	return collect(byKey, func(g *Group) bool { return len(g.Timeframes()) > 1 })
}

// multi_multi: key (cycle); kept only with more than one pattern AND more
// than one distinct timeframe.
func multiMultiGroups(asset string, patterns []Pattern) []Group {
	byKey := make(map[string]*Group)
	for _, p := range patterns {
		k := cycleKey(p)
		g, ok := byKey[k]
		if !ok {
			g = &Group{Kind: KindMultiMulti, Asset: asset, CycleTime: p.CycleTime}
			byKey[k] = g
		}
		g.Patterns = append(g.Patterns, p)
	}
	return collect(byKey, func(g *Group) bool {
		return len(g.Patterns) > 1 && len(g.Timeframes()) > 1
	})
}

// single_single_multi_cycle: key (pattern_type, timeframe); kept only when
// spanning more than one distinct cycle.
func singleSingleMultiCycleGroups(asset string, patterns []Pattern) []Group {
	byKey := make(map[string]*Group)
	for _, p := range patterns {
		k := p.PatternType + "|" + string(p.Timeframe)
		g, ok := byKey[k]
		if !ok {
			g = &Group{Kind: KindSingleSingleMultiCycle, Asset: asset, Timeframe: p.Timeframe}
			byKey[k] = g
		}
		g.Patterns = append(g.Patterns, p)
	}
	return collect(byKey, func(g *Group) bool { return g.CycleCount() > 1 })
}

// multi_multi_cycle: one asset-level group; kept only with more than one
// pattern AND more than one distinct cycle.
func multiMultiCycleGroups(asset string, patterns []Pattern) []Group {
	g := &Group{Kind: KindMultiMultiCycle, Asset: asset, Patterns: patterns}
	if len(g.Patterns) > 1 && g.CycleCount() > 1 {
		return []Group{*g}
	}
	return nil
}
