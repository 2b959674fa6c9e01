package scrap

import (
	"context"
	"fmt"
)

// GetHistory returns the most recent runs, ordered newest first.
func (s *ScrapService) GetHistory(ctx context.Context, limit int) ([]*RunRecord, error) {
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
