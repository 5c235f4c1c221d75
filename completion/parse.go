package completion

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// ParseEstimate extracts a structured estimate from a completion response.
// The response may be a bare JSON object, a fenced ```json block inside
// free text, or free text containing one JSON object. Anything else is
// ErrParse.
func ParseEstimate(raw string) (Estimate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Estimate{}, fmt.Errorf("%w: empty response", ErrParse)
	}

	for _, candidate := range jsonCandidates(raw) {
		var est Estimate
		if err := json.Unmarshal([]byte(candidate), &est); err != nil {
			continue
		}
		if err := validateEstimate(&est); err != nil {
			continue
		}
		return est, nil
	}
	return Estimate{}, fmt.Errorf("%w: no valid JSON estimate in %d bytes", ErrParse, len(raw))
}

// jsonCandidates yields the substrings worth attempting to decode, most
// specific first: the whole payload, each fenced block, then the outermost
// brace span.
func jsonCandidates(raw string) []string {
	candidates := []string{raw}
	candidates = append(candidates, fencedBlocks(raw)...)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			candidates = append(candidates, raw[start:end+1])
		}
	}
	return candidates
}

func fencedBlocks(raw string) []string {
	var blocks []string
	rest := raw
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		rest = rest[open+3:]
		// Skip the info string ("json", "JSON", ...) up to the newline.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		closing := strings.Index(rest, "```")
		if closing < 0 {
			break
		}
		blocks = append(blocks, strings.TrimSpace(rest[:closing]))
		rest = rest[closing+3:]
	}
	return blocks
}

func validateEstimate(est *Estimate) error {
	est.Direction = strings.ToLower(strings.TrimSpace(est.Direction))
	switch est.Direction {
	case "long", "short", "neutral":
	default:
		return fmt.Errorf("direction %q", est.Direction)
	}
	if est.TargetPrice <= 0 || est.StopPrice <= 0 {
		return fmt.Errorf("non-positive prices %.4f/%.4f", est.TargetPrice, est.StopPrice)
	}
	if est.Confidence < 0 {
		est.Confidence = 0
	}
	if est.Confidence > 1 {
		est.Confidence = 1
	}
	if est.DurationHours < 0 {
		est.DurationHours = 0
	}
	return nil
}
