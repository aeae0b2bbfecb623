package tracking

import "context"

// Analytics is the rollup returned by GetAnalytics.
type Analytics struct {
	TotalClicks    int64   `json:"totalClicks"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
	TotalRevenue   float64 `json:"totalRevenue"`
	EPC            float64 `json:"epc"`
}

// GetAnalytics recomputes click/conversion/revenue rollups from the click
// records, optionally filtered by offer. Always recomputed at query time;
// the Redis offer hints are never consulted. Zero matching clicks yield
// all-zero aggregates, never a division fault.
func (s *Service) GetAnalytics(ctx context.Context, offerID string) (*Analytics, error) {
	agg, err := s.clicks.Aggregate(ctx, offerID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTrackingError("get_analytics", "store")
		}
		return nil, &StoreError{Op: "aggregate clicks", Err: err}
	}

	a := &Analytics{
		TotalClicks:  agg.TotalClicks,
		Conversions:  agg.Conversions,
		TotalRevenue: agg.TotalRevenue,
	}
	if agg.TotalClicks > 0 {
		a.ConversionRate = float64(agg.Conversions) / float64(agg.TotalClicks)
		a.EPC = agg.TotalRevenue / float64(agg.TotalClicks)
	}
	return a, nil
}
