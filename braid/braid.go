// Package braid aggregates outcome records into higher-level summaries.
// Records are clustered first on exact categorical columns, then refined
// within each column cluster by pattern similarity; clusters that clear
// the population threshold are promoted to braid records whose scores are
// the arithmetic mean of their members'.
package braid

import (
	"fmt"
	"strings"

	"github.com/tradeloop/flywheel/precedent"
	"github.com/tradeloop/flywheel/store"
)

// Cluster is one candidate group of outcome records sharing a categorical
// key and, after refinement, mutual pattern similarity.
type Cluster struct {
	Key     string
	Members []store.PredictionReview
}

// Size returns the cluster population.
func (c Cluster) Size() int { return len(c.Members) }

// Clusterer is the clustering contract. Alternative strategies plug in
// behind it; the promoter only consumes clusters and the threshold gate.
type Clusterer interface {
	Cluster(records []store.PredictionReview, braidLevel int) []Cluster
	MeetsThreshold(c Cluster) bool
}

// Config bounds clustering and promotion.
type Config struct {
	// MinClusterSize gates promotion; smaller clusters never braid.
	MinClusterSize int `yaml:"min_cluster_size" default:"3" validate:"gt=0"`

	// SimilarityThreshold bounds the tier-two refinement pass.
	SimilarityThreshold float64 `yaml:"similarity_threshold" default:"0.7" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the production clustering gates.
func DefaultConfig() Config {
	return Config{MinClusterSize: 3, SimilarityThreshold: 0.7}
}

// TwoTier is the default Clusterer: exact categorical columns first,
// similarity refinement second.
type TwoTier struct {
	cfg Config
}

func NewTwoTier(cfg Config) *TwoTier {
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultConfig().MinClusterSize
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	return &TwoTier{cfg: cfg}
}

// Cluster partitions records at the given promotion level. Records at a
// different level are ignored; they belong to another braiding pass.
func (t *TwoTier) Cluster(records []store.PredictionReview, braidLevel int) []Cluster {
	columns := make(map[string][]store.PredictionReview)
	var order []string
	for _, rec := range records {
		if rec.BraidLevel != braidLevel {
			continue
		}
		key := columnKey(rec)
		if _, seen := columns[key]; !seen {
			order = append(order, key)
		}
		columns[key] = append(columns[key], rec)
	}

	var out []Cluster
	for _, key := range order {
		out = append(out, t.refine(key, columns[key])...)
	}
	return out
}

// MeetsThreshold reports whether a cluster is populous enough to braid.
func (t *TwoTier) MeetsThreshold(c Cluster) bool {
	return c.Size() >= t.cfg.MinClusterSize
}

// columnKey renders the exact-match categorical identity of a record:
// agent, timeframe, regime, pattern type and current promotion level.
func columnKey(rec store.PredictionReview) string {
	return strings.Join([]string{
		rec.AgentID,
		string(rec.Timeframe),
		rec.Regime,
		strings.Join(rec.PatternTypes, "+"),
		fmt.Sprintf("L%d", rec.BraidLevel),
	}, "|")
}

// refine splits one column cluster into similarity-coherent sub-clusters.
// Each record joins the first sub-cluster whose current members it scores
// at or above the threshold against on average, else starts its own.
func (t *TwoTier) refine(key string, members []store.PredictionReview) []Cluster {
	var subs []Cluster
	for _, rec := range members {
		placed := false
		for i := range subs {
			if t.meanSimilarity(rec, subs[i].Members) >= t.cfg.SimilarityThreshold {
				subs[i].Members = append(subs[i].Members, rec)
				placed = true
				break
			}
		}
		if !placed {
			subKey := key
			if len(subs) > 0 {
				subKey = fmt.Sprintf("%s#%d", key, len(subs))
			}
			subs = append(subs, Cluster{Key: subKey, Members: []store.PredictionReview{rec}})
		}
	}
	return subs
}

// meanSimilarity scores a record against every current member of a
// sub-cluster, so membership stays coherent as the cluster grows instead
// of chaining off a single seed.
func (t *TwoTier) meanSimilarity(rec store.PredictionReview, members []store.PredictionReview) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range members {
		sum += precedent.Score(rec.PatternTypes, rec.Timeframes, rec.CycleCount, m)
	}
	return sum / float64(len(members))
}
