package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
)

func newClick(clickID, offerID string) *models.ClickTrack {
	return &models.ClickTrack{
		ID:              "id-" + clickID,
		ClickID:         clickID,
		SessionID:       "sess-1",
		QuestionID:      "q-1",
		OfferID:         offerID,
		ButtonVariantID: "btn-1",
		Status:          models.ClickStatusValid,
		Timestamp:       time.Now().UTC(),
	}
}

func TestMarkConvertedTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryClickTrackStore()
	require.NoError(t, store.SaveClick(ctx, newClick("c-1", "offer-1")))

	rev := 12.5
	click, applied, err := store.MarkConverted(ctx, "c-1", &rev, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, click)
	assert.True(t, click.Converted)
	require.NotNil(t, click.Revenue)
	assert.Equal(t, 12.5, *click.Revenue)
	require.NotNil(t, click.ConvertedAt)
}

func TestMarkConvertedKeepsFirstRevenue(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryClickTrackStore()
	require.NoError(t, store.SaveClick(ctx, newClick("c-1", "offer-1")))

	first := 10.0
	_, applied, err := store.MarkConverted(ctx, "c-1", &first, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	second := 99.0
	click, applied, err := store.MarkConverted(ctx, "c-1", &second, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)
	require.NotNil(t, click)
	require.NotNil(t, click.Revenue)
	assert.Equal(t, 10.0, *click.Revenue)
}

func TestMarkConvertedUnknownClick(t *testing.T) {
	store := NewInMemoryClickTrackStore()

	click, applied, err := store.MarkConverted(context.Background(), "missing", nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, click)
	assert.False(t, applied)
}

func TestMarkConvertedConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryClickTrackStore()
	require.NoError(t, store.SaveClick(ctx, newClick("c-1", "offer-1")))

	const workers = 32
	var wg sync.WaitGroup
	appliedCount := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rev := float64(n)
			_, applied, err := store.MarkConverted(ctx, "c-1", &rev, time.Now().UTC())
			if err == nil && applied {
				appliedCount <- true
			}
		}(i)
	}
	wg.Wait()
	close(appliedCount)

	var total int
	for range appliedCount {
		total++
	}
	assert.Equal(t, 1, total, "exactly one concurrent delivery may apply the transition")
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryClickTrackStore()

	for i := 0; i < 10; i++ {
		offer := "offer-a"
		if i >= 6 {
			offer = "offer-b"
		}
		require.NoError(t, store.SaveClick(ctx, newClick(fmt.Sprintf("c-%d", i), offer)))
	}
	for i := 0; i < 4; i++ {
		rev := 25.0
		_, applied, err := store.MarkConverted(ctx, fmt.Sprintf("c-%d", i), &rev, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, applied)
	}

	agg, err := store.Aggregate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), agg.TotalClicks)
	assert.Equal(t, int64(4), agg.Conversions)
	assert.Equal(t, 100.0, agg.TotalRevenue)

	agg, err = store.Aggregate(ctx, "offer-a")
	require.NoError(t, err)
	assert.Equal(t, int64(6), agg.TotalClicks)
	assert.Equal(t, int64(4), agg.Conversions)

	agg, err = store.Aggregate(ctx, "offer-unknown")
	require.NoError(t, err)
	assert.Equal(t, ClickAggregate{}, agg)
}

func TestConvertedRevenueAbsentCountsAsZero(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryClickTrackStore()
	require.NoError(t, store.SaveClick(ctx, newClick("c-1", "offer-1")))

	_, applied, err := store.MarkConverted(ctx, "c-1", nil, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, applied)

	agg, err := store.Aggregate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.Conversions)
	assert.Equal(t, 0.0, agg.TotalRevenue)
}
