// Package pattern defines detected market patterns, the six-way grouping
// taxonomy that partitions them per asset, and the cycle-agnostic signature
// that identifies a group's shape across analysis cycles.
package pattern

import (
	"errors"
	"fmt"
	"time"
)

// Timeframe is the bar interval a pattern was detected on.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var timeframeHours = map[Timeframe]float64{
	TF1m:  1.0 / 60.0,
	TF5m:  5.0 / 60.0,
	TF15m: 0.25,
	TF30m: 0.5,
	TF1h:  1.0,
	TF4h:  4.0,
	TF1d:  24.0,
	TF1w:  168.0,
}

// Hours returns the bar length in hours, 0 for unknown timeframes.
func (tf Timeframe) Hours() float64 {
	return timeframeHours[tf]
}

// IsValid reports whether tf is one of the supported intervals.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeHours[tf]
	return ok
}

// Pattern is a single detection emitted by an upstream analyzer. Immutable
// once created; SourceID is an opaque reference to the originating
// detection record.
type Pattern struct {
	PatternType string    `json:"pattern_type"`
	Asset       string    `json:"asset"`
	Timeframe   Timeframe `json:"timeframe"`
	CycleTime   time.Time `json:"cycle_time"`
	SourceID    string    `json:"source_id"`
}

// Validate checks the fields an upstream detector must always provide.
func (p Pattern) Validate() error {
	if p.PatternType == "" {
		return errors.New("pattern type is required")
	}
	if p.Asset == "" {
		return errors.New("asset is required")
	}
	if !p.Timeframe.IsValid() {
		return fmt.Errorf("unknown timeframe: %q", p.Timeframe)
	}
	if p.CycleTime.IsZero() {
		return errors.New("cycle time is required")
	}
	return nil
}
