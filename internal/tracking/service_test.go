package tracking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/storage"
)

const testPixelTemplate = "https://track.example.com/pixel?click_id={click_id}&survey_id={survey_id}"

type testEnv struct {
	svc      *Service
	clicks   *countingClickStore
	offers   *storage.InMemoryOfferStore
	sessions *storage.InMemorySessionStore
}

// countingClickStore counts writes so tests can assert that validation
// failures short-circuit before any store access.
type countingClickStore struct {
	storage.ClickTrackStore
	mu     sync.Mutex
	writes int
}

func (c *countingClickStore) SaveClick(ctx context.Context, click *models.ClickTrack) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.ClickTrackStore.SaveClick(ctx, click)
}

func (c *countingClickStore) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	clicks := &countingClickStore{ClickTrackStore: storage.NewInMemoryClickTrackStore()}
	offers := storage.NewInMemoryOfferStore()
	questions := storage.NewInMemoryQuestionStore()
	sessions := storage.NewInMemorySessionStore()

	require.NoError(t, offers.UpsertOffer(ctx, &models.Offer{
		ID:             "offer-1",
		Name:           "Test Offer",
		DestinationURL: "https://x.com/go?click_id={click_id}&survey_id={survey_id}&ref={ref}",
		Tokens:         map[string]string{"ref": "test"},
		Active:         true,
	}))
	require.NoError(t, questions.UpsertQuestion(ctx, &models.Question{
		ID:       "q-1",
		SurveyID: "s1",
		Type:     "CTA_OFFER",
	}))

	svc := NewService(Deps{
		Clicks:        clicks,
		Offers:        offers,
		Questions:     questions,
		Sessions:      sessions,
		Logger:        zap.NewNop(),
		PixelTemplate: testPixelTemplate,
	})

	return &testEnv{svc: svc, clicks: clicks, offers: offers, sessions: sessions}
}

func validClickRequest() *ClickRequest {
	return &ClickRequest{
		SessionID:       "sess-1",
		QuestionID:      "q-1",
		OfferID:         "offer-1",
		ButtonVariantID: "btn-1",
	}
}

func TestRecordClickRendersRedirect(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.svc.RecordClick(context.Background(), validClickRequest())
	require.NoError(t, err)

	require.NotNil(t, res.Click)
	assert.NotEmpty(t, res.Click.ID)
	assert.NotEmpty(t, res.Click.ClickID)
	assert.NotEqual(t, res.Click.ID, res.Click.ClickID)
	assert.Equal(t, models.ClickStatusValid, res.Click.Status)

	expected := fmt.Sprintf("https://x.com/go?click_id=%s&survey_id=s1&ref=test", res.Click.ClickID)
	assert.Equal(t, expected, res.RedirectURL)
	assert.Equal(t, expected, res.Click.TargetURL)
}

func TestRecordClickValidationShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.RecordClick(context.Background(), &ClickRequest{SessionID: "sess-1"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, env.clicks.writeCount(), "validation failure must not touch the store")
}

func TestRecordClickUnknownOffer(t *testing.T) {
	env := newTestEnv(t)

	req := validClickRequest()
	req.OfferID = "offer-nope"
	_, err := env.svc.RecordClick(context.Background(), req)

	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "offer", nferr.Entity)
	assert.Zero(t, env.clicks.writeCount())
}

func TestRecordClickUnknownQuestion(t *testing.T) {
	env := newTestEnv(t)

	req := validClickRequest()
	req.QuestionID = "q-nope"
	_, err := env.svc.RecordClick(context.Background(), req)

	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "question", nferr.Entity)
}

func TestRecordClickMalformedTimestampFallsBack(t *testing.T) {
	env := newTestEnv(t)

	req := validClickRequest()
	req.Timestamp = "invalid-timestamp"

	before := time.Now().UTC()
	res, err := env.svc.RecordClick(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, res.Click.Timestamp.Before(before.Add(-time.Second)))
	assert.False(t, res.Click.Timestamp.After(time.Now().UTC().Add(time.Second)))
}

func TestRecordClickParsesClientTimestamp(t *testing.T) {
	env := newTestEnv(t)

	req := validClickRequest()
	req.Timestamp = "2024-03-01T12:00:00Z"

	res, err := env.svc.RecordClick(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), res.Click.Timestamp)
}

func TestRecordClickSessionMetadataFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.sessions.UpsertSession(ctx, &models.Session{
		ID:        "sess-1",
		UserAgent: "Mozilla/5.0",
		IPAddress: "203.0.113.7",
	}))

	res, err := env.svc.RecordClick(ctx, validClickRequest())
	require.NoError(t, err)
	assert.Equal(t, "Mozilla/5.0", res.Click.UserAgent)
	assert.Equal(t, "203.0.113.7", res.Click.IPAddress)
}

func TestRecordClickMalformedTemplateStillRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.offers.UpsertOffer(ctx, &models.Offer{
		ID:             "offer-bad",
		DestinationURL: "https://x.com/go?click_id={click_id}&broken={oops",
		Active:         true,
	}))

	req := validClickRequest()
	req.OfferID = "offer-bad"

	res, err := env.svc.RecordClick(ctx, req)
	require.NoError(t, err, "templating errors must not abort click recording")
	assert.Contains(t, res.RedirectURL, "click_id="+res.Click.ClickID)
	assert.Contains(t, res.RedirectURL, "{oops")

	stored, err := env.svc.clicks.GetClickByClickID(ctx, res.Click.ClickID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestRecordClickConcurrentClickIDsAreDistinct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := validClickRequest()
			req.ButtonVariantID = fmt.Sprintf("btn-%d", i)
			res, err := env.svc.RecordClick(ctx, req)
			if err == nil {
				ids <- res.Click.ClickID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate click id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestRecordConversionRequiresClickID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.RecordConversion(context.Background(), "", "10.0")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Click ID is required", verr.Error())
}

func TestRecordConversionUnknownClick(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.RecordConversion(context.Background(), "no-such-click", "")

	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "click", nferr.Entity)
}

func TestRecordConversionIdempotentFirstRevenueWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.RecordClick(ctx, validClickRequest())
	require.NoError(t, err)
	clickID := res.Click.ClickID

	first, err := env.svc.RecordConversion(ctx, clickID, "10.0")
	require.NoError(t, err)
	assert.True(t, first.Converted)

	second, err := env.svc.RecordConversion(ctx, clickID, "99.0")
	require.NoError(t, err)
	assert.True(t, second.Converted)

	stored, err := env.svc.clicks.GetClickByClickID(ctx, clickID)
	require.NoError(t, err)
	require.NotNil(t, stored.Revenue)
	assert.Equal(t, 10.0, *stored.Revenue)
}

func TestRecordConversionMalformedRevenueIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.RecordClick(ctx, validClickRequest())
	require.NoError(t, err)

	conv, err := env.svc.RecordConversion(ctx, res.Click.ClickID, "not-a-number")
	require.NoError(t, err, "malformed revenue must not drop the conversion")
	assert.True(t, conv.Converted)

	stored, err := env.svc.clicks.GetClickByClickID(ctx, res.Click.ClickID)
	require.NoError(t, err)
	assert.True(t, stored.Converted)
	assert.Nil(t, stored.Revenue)
}

func TestRecordConversionNegativeRevenueIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.RecordClick(ctx, validClickRequest())
	require.NoError(t, err)

	_, err = env.svc.RecordConversion(ctx, res.Click.ClickID, "-5.0")
	require.NoError(t, err)

	stored, err := env.svc.clicks.GetClickByClickID(ctx, res.Click.ClickID)
	require.NoError(t, err)
	assert.Nil(t, stored.Revenue)
}

func TestGetAnalyticsAggregates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	clickIDs := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		req := validClickRequest()
		req.ButtonVariantID = fmt.Sprintf("btn-%d", i)
		res, err := env.svc.RecordClick(ctx, req)
		require.NoError(t, err)
		clickIDs = append(clickIDs, res.Click.ClickID)
	}
	for i := 0; i < 4; i++ {
		_, err := env.svc.RecordConversion(ctx, clickIDs[i], "25.0")
		require.NoError(t, err)
	}

	a, err := env.svc.GetAnalytics(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.TotalClicks)
	assert.Equal(t, int64(4), a.Conversions)
	assert.InDelta(t, 0.4, a.ConversionRate, 1e-9)
	assert.InDelta(t, 100.0, a.TotalRevenue, 1e-9)
	assert.InDelta(t, 10.0, a.EPC, 1e-9)
}

func TestGetAnalyticsZeroClicks(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.svc.GetAnalytics(context.Background(), "offer-without-clicks")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.TotalClicks)
	assert.Equal(t, 0.0, a.ConversionRate)
	assert.Equal(t, 0.0, a.EPC)
	assert.Equal(t, 0.0, a.TotalRevenue)
}

func TestGeneratePixelURL(t *testing.T) {
	env := newTestEnv(t)

	url, err := env.svc.GeneratePixelURL(context.Background(), "abc123", "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://track.example.com/pixel?click_id=abc123&survey_id=s1", url)
}

func TestGeneratePixelURLValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GeneratePixelURL(context.Background(), "", "s1")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = env.svc.GeneratePixelURL(context.Background(), "abc123", "")
	require.ErrorAs(t, err, &verr)
}

func TestGeneratePixelURLPrefersOfferTemplate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.offers.UpsertOffer(ctx, &models.Offer{
		ID:             "offer-1",
		DestinationURL: "https://x.com/go?click_id={click_id}",
		PixelURL:       "https://aff.example.net/px?cid={click_id}&sid={survey_id}",
		Active:         true,
	}))

	res, err := env.svc.RecordClick(ctx, validClickRequest())
	require.NoError(t, err)

	url, err := env.svc.GeneratePixelURL(ctx, res.Click.ClickID, "s1")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("https://aff.example.net/px?cid=%s&sid=s1", res.Click.ClickID), url)
}

func TestResolveRedirect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.RecordClick(ctx, validClickRequest())
	require.NoError(t, err)

	url, err := env.svc.ResolveRedirect(ctx, res.Click.ClickID)
	require.NoError(t, err)
	assert.Equal(t, res.RedirectURL, url)

	_, err = env.svc.ResolveRedirect(ctx, "missing")
	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)
}
