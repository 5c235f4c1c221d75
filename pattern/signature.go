package pattern

import (
	"strconv"
	"strings"
)

// Signature derives the stable identity string a group is stored and looked
// up under. Two groups observed weeks apart with the same shape produce the
// same signature: the string carries no asset, no timestamps, and no pattern
// ordering. Distinct pattern types and timeframes are sorted and joined with
// "+"; the distinct-cycle count is appended only for the two multi-cycle
// kinds, where recurrence is part of the shape itself.
//
// Format: <kind>|<type1+type2>|<tf1+tf2>[|c<N>]
func (g Group) Signature() string {
	var sb strings.Builder
	sb.WriteString(string(g.Kind))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(g.PatternTypes(), "+"))
	sb.WriteByte('|')

	tfs := g.Timeframes()
	parts := make([]string, len(tfs))
	for i, tf := range tfs {
		parts[i] = string(tf)
	}
	sb.WriteString(strings.Join(parts, "+"))

	if g.Kind.CycleSensitive() {
		sb.WriteString("|c")
		sb.WriteString(strconv.Itoa(g.CycleCount()))
	}
	return sb.String()
}
