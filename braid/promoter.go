package braid

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeloop/flywheel/store"
)

// batchLimit bounds one promotion pass over the review store.
const batchLimit = 500

// Promoter runs periodic braiding passes: cluster the outcome records at a
// promotion level and persist an aggregate braid for every cluster that
// clears the threshold.
type Promoter struct {
	clusterer Clusterer
	reviews   store.ReviewRepo
	braids    store.BraidRepo
	now       func() time.Time
}

func NewPromoter(clusterer Clusterer, reviews store.ReviewRepo, braids store.BraidRepo) *Promoter {
	return &Promoter{clusterer: clusterer, reviews: reviews, braids: braids, now: time.Now}
}

// Promote braids the records currently at braidLevel into level+1
// aggregates and returns the braids written.
func (p *Promoter) Promote(ctx context.Context, braidLevel int) ([]store.Braid, error) {
	records, err := p.reviews.ListByBraidLevel(ctx, braidLevel, batchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for braiding: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	clusters := p.clusterer.Cluster(records, braidLevel)

	var promoted []store.Braid
	for _, cluster := range clusters {
		if !p.clusterer.MeetsThreshold(cluster) {
			continue
		}
		b := p.aggregate(cluster, braidLevel+1)
		if err := p.braids.Insert(ctx, b); err != nil {
			return promoted, fmt.Errorf("failed to persist braid %s: %w", b.ClusterKey, err)
		}
		promoted = append(promoted, b)

		log.Info().
			Str("cluster", b.ClusterKey).
			Int("level", b.Level).
			Int("size", b.Size).
			Float64("persistence", b.Persistence).
			Msg("Cluster promoted to braid")
	}
	return promoted, nil
}

// aggregate folds a cluster into its braid record. Scores are the
// arithmetic mean of the members' scores.
func (p *Promoter) aggregate(c Cluster, level int) store.Braid {
	var persistence, novelty, surprise float64
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		persistence += m.Persistence
		novelty += m.Novelty
		surprise += m.Surprise
		ids = append(ids, m.ID)
	}
	n := float64(len(c.Members))

	return store.Braid{
		ID:          uuid.New().String(),
		Level:       level,
		ClusterKey:  c.Key,
		MemberIDs:   ids,
		Size:        len(c.Members),
		Persistence: persistence / n,
		Novelty:     novelty / n,
		Surprise:    surprise / n,
		CreatedAt:   p.now().UTC(),
	}
}
