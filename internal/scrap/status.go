package scrap

import (
	"context"
	"fmt"
	"math"
)

// Stats is the summary printed by the stats command.
type Stats struct {
	Store *StoreStats
	// Documents is the number of documents in the search index.
	Documents int64
	// AverageRecords is the mean record count per active file.
	AverageRecords float64
	Recent         []*FileAggregate
}

// GetStats returns store and index totals plus the most recent aggregates.
func (s *ScrapService) GetStats(ctx context.Context, recent int) (*Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading store stats: %w", err)
	}
	docs, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}

	stats := &Stats{Store: st, Documents: docs}
	if st.ActiveFiles > 0 {
		stats.AverageRecords = float64(st.Records) / float64(st.ActiveFiles)
	}
	if recent > 0 {
		stats.Recent, err = s.store.ListAggregates(ctx, AggregateFilter{Limit: recent})
		if err != nil {
			return nil, fmt.Errorf("listing recent aggregates: %w", err)
		}
	}
	return stats, nil
}

// FixThresholdMB is the size above which FixSizes looks at a file unless
// asked to check every file.
const FixThresholdMB = 1000

// SizeFix is one corrected aggregate size.
type SizeFix struct {
	AggregateID int64
	Key         string
	Previous    float64
	Current     float64
}

// FixSizes re-stats the objects behind aggregates and corrects stored sizes
// that differ by more than 0.01 MB. Without all, only aggregates recorded
// above FixThresholdMB are checked. Objects that cannot be stat'ed are
// logged and left alone.
func (s *ScrapService) FixSizes(ctx context.Context, all bool) ([]*SizeFix, error) {
	filter := AggregateFilter{}
	if !all {
		filter.MinSizeMB = FixThresholdMB
	}
	aggs, err := s.store.ListAggregates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing aggregates: %w", err)
	}

	var fixes []*SizeFix
	for _, agg := range aggs {
		size, err := s.objects.Stat(ctx, agg.SourceKey)
		if err != nil {
			s.logger.Warn("cannot stat object", "id", agg.ID, "key", agg.SourceKey, "error", err)
			continue
		}
		current := RoundMB(size)
		if math.Abs(current-agg.SizeMB) <= 0.01 {
			continue
		}

		unlock := s.locks.Lock(agg.ContentHash)
		fix := &SizeFix{AggregateID: agg.ID, Key: agg.SourceKey, Previous: agg.SizeMB, Current: current}
		agg.SizeMB = current
		err = s.store.UpdateAggregate(ctx, agg)
		unlock()
		if err != nil {
			return fixes, fmt.Errorf("updating size of aggregate %d: %w", agg.ID, err)
		}
		s.logger.Info("size corrected", "id", agg.ID, "previous", fix.Previous, "current", fix.Current)
		fixes = append(fixes, fix)
	}
	return fixes, nil
}
