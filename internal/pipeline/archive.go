package pipeline

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/pricewatch/internal/store"
)

// Archive flags a competitor's current generation non-current and returns
// how many plans it touched. Features go first so no current feature ever
// points at an archived plan. A competitor without current plans is a no-op.
func Archive(ctx context.Context, s store.Store, competitorID string) (int, error) {
	ids, err := s.GetCurrentPlanIDs(ctx, competitorID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArchiveRead, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.SetFeaturesNonCurrent(ctx, ids); err != nil {
		return 0, fmt.Errorf("%w: features: %w", ErrArchiveWrite, err)
	}
	if err := s.SetPlansNonCurrent(ctx, ids); err != nil {
		return 0, fmt.Errorf("%w: plans: %w", ErrArchiveWrite, err)
	}
	return len(ids), nil
}
