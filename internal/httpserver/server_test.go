package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/config"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		Tracking: config.TrackingConfig{BaseURL: "http://localhost:8080"},
	}

	h := NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})

	seedOffer(t, h, "offer-1", "https://x.com/go?click_id={click_id}&survey_id={survey_id}")
	seedQuestion(t, h, "q-1", "s1")

	return h
}

func seedOffer(t *testing.T, h http.Handler, id, destination string) {
	t.Helper()
	body := fmt.Sprintf(`{"id":%q,"name":"Seeded","destinationUrl":%q,"active":true}`, id, destination)
	rec := doJSON(h, http.MethodPost, "/api/offers", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func seedQuestion(t *testing.T, h http.Handler, id, surveyID string) {
	t.Helper()
	body := fmt.Sprintf(`{"id":%q,"surveyId":%q,"type":"CTA_OFFER"}`, id, surveyID)
	rec := doJSON(h, http.MethodPost, "/api/questions", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func doJSON(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func trackClick(t *testing.T, h http.Handler, body string) envelope {
	t.Helper()
	rec := doJSON(h, http.MethodPost, "/api/track/click", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeEnvelope(t, rec)
}

const validClickBody = `{"sessionId":"sess-1","questionId":"q-1","offerId":"offer-1","buttonVariantId":"btn-1"}`

func clickIDFrom(t *testing.T, env envelope) string {
	t.Helper()
	var data struct {
		ClickTrack struct {
			ClickID string `json:"clickId"`
		} `json:"clickTrack"`
		RedirectURL string `json:"redirectUrl"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.ClickTrack.ClickID)
	return data.ClickTrack.ClickID
}

func TestTrackClickEnvelope(t *testing.T) {
	h := newTestServer(t)

	env := trackClick(t, h, validClickBody)
	assert.True(t, env.Success)
	assert.Empty(t, env.Error)
	assert.False(t, env.Timestamp.IsZero())

	clickID := clickIDFrom(t, env)

	var data struct {
		RedirectURL string `json:"redirectUrl"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, fmt.Sprintf("https://x.com/go?click_id=%s&survey_id=s1", clickID), data.RedirectURL)
}

func TestTrackClickMissingFields(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodPost, "/api/track/click", `{"sessionId":"sess-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "required")
}

func TestTrackClickExtraFieldsIgnored(t *testing.T) {
	h := newTestServer(t)

	body := `{"sessionId":"sess-1","questionId":"q-1","offerId":"offer-1","buttonVariantId":"btn-1","campaign":"summer","nested":{"a":1}}`
	env := trackClick(t, h, body)
	assert.True(t, env.Success)
}

func TestTrackClickUnknownOfferIsOpaque(t *testing.T) {
	h := newTestServer(t)

	body := `{"sessionId":"sess-1","questionId":"q-1","offerId":"offer-nope","buttonVariantId":"btn-1"}`
	rec := doJSON(h, http.MethodPost, "/api/track/click", body)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, "internal error", env.Error)
}

func TestConversionViaGetQuery(t *testing.T) {
	h := newTestServer(t)

	clickID := clickIDFrom(t, trackClick(t, h, validClickBody))

	rec := doJSON(h, http.MethodGet, "/api/track/conversion?click_id="+clickID+"&revenue=12.5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	var data struct {
		Converted bool `json:"converted"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, data.Converted)
}

func TestConversionViaPostBody(t *testing.T) {
	h := newTestServer(t)

	clickID := clickIDFrom(t, trackClick(t, h, validClickBody))

	rec := doJSON(h, http.MethodPost, "/api/track/conversion", fmt.Sprintf(`{"click_id":%q,"revenue":"3.0"}`, clickID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeEnvelope(t, rec).Success)
}

func TestConversionMissingClickID(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodGet, "/api/track/conversion", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Click ID is required", decodeEnvelope(t, rec).Error)
}

func TestConversionUnknownClickIsOpaque(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodGet, "/api/track/conversion?click_id=no-such-click", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeEnvelope(t, rec).Error)
}

func TestAnalyticsEmpty(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodGet, "/api/track/analytics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var data struct {
		TotalClicks    int64   `json:"totalClicks"`
		Conversions    int64   `json:"conversions"`
		ConversionRate float64 `json:"conversionRate"`
		TotalRevenue   float64 `json:"totalRevenue"`
		EPC            float64 `json:"epc"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Zero(t, data.TotalClicks)
	assert.Zero(t, data.ConversionRate)
	assert.Zero(t, data.EPC)
}

func TestAnalyticsRollup(t *testing.T) {
	h := newTestServer(t)

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		body := fmt.Sprintf(`{"sessionId":"sess-1","questionId":"q-1","offerId":"offer-1","buttonVariantId":"btn-%d"}`, i)
		ids = append(ids, clickIDFrom(t, trackClick(t, h, body)))
	}
	rec := doJSON(h, http.MethodGet, "/api/track/conversion?click_id="+ids[0]+"&revenue=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(h, http.MethodGet, "/api/track/analytics?offerId=offer-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var data struct {
		TotalClicks    int64   `json:"totalClicks"`
		Conversions    int64   `json:"conversions"`
		ConversionRate float64 `json:"conversionRate"`
		TotalRevenue   float64 `json:"totalRevenue"`
		EPC            float64 `json:"epc"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(4), data.TotalClicks)
	assert.Equal(t, int64(1), data.Conversions)
	assert.InDelta(t, 0.25, data.ConversionRate, 1e-9)
	assert.InDelta(t, 10.0, data.TotalRevenue, 1e-9)
	assert.InDelta(t, 2.5, data.EPC, 1e-9)
}

func TestPixelRendersDefaultTemplate(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodPost, "/api/track/pixel", `{"clickId":"abc123","surveyId":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	var data struct {
		PixelURL string `json:"pixelUrl"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "http://localhost:8080/api/track/conversion?click_id=abc123&survey_id=s1", data.PixelURL)
}

func TestPixelMissingFields(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodPost, "/api/track/pixel", `{"clickId":"abc123"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestRedirectFollowsRecordedURL(t *testing.T) {
	h := newTestServer(t)

	env := trackClick(t, h, validClickBody)
	clickID := clickIDFrom(t, env)

	rec := doJSON(h, http.MethodGet, "/r/"+clickID, "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "click_id="+clickID)
}

func TestRedirectUnknownClick(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodGet, "/r/no-such-click", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOfferNotFound(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodGet, "/api/offers/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOfferRoundTrip(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodGet, "/api/offers/offer-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var data struct {
		ID             string `json:"id"`
		DestinationURL string `json:"destinationUrl"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "offer-1", data.ID)
	assert.NotEmpty(t, data.DestinationURL)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodDelete, "/api/track/click", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
