package tracking

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/metrics"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/storage"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/urltemplate"
)

// GeoInfo holds geo lookup results attached to a click.
type GeoInfo struct {
	Country string
	Region  string
	City    string
}

// GeoResolver resolves a request IP to geo info. Implementations return
// nil when the IP cannot be resolved.
type GeoResolver interface {
	Resolve(ip string) *GeoInfo
}

// Service is the tracking facade: click recording, conversion matching,
// analytics and pixel URL generation over the click store.
type Service struct {
	clicks    storage.ClickTrackStore
	offers    storage.OfferStore
	questions storage.QuestionStore
	sessions  storage.SessionStore
	sink      storage.EventSink
	hints     *MetricsHint
	geo       GeoResolver
	metrics   *metrics.Metrics
	logger    *zap.Logger

	pixelTemplate string
}

// Deps holds the collaborators for NewService. Clicks, Offers, Questions
// and Logger are required; everything else is optional.
type Deps struct {
	Clicks    storage.ClickTrackStore
	Offers    storage.OfferStore
	Questions storage.QuestionStore
	Sessions  storage.SessionStore
	Sink      storage.EventSink
	Hints     *MetricsHint
	Geo       GeoResolver
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	// PixelTemplate is the default conversion pixel template, used when
	// an offer does not carry its own.
	PixelTemplate string
}

// NewService creates the tracking facade.
func NewService(d Deps) *Service {
	return &Service{
		clicks:        d.Clicks,
		offers:        d.Offers,
		questions:     d.Questions,
		sessions:      d.Sessions,
		sink:          d.Sink,
		hints:         d.Hints,
		geo:           d.Geo,
		metrics:       d.Metrics,
		logger:        d.Logger,
		pixelTemplate: d.PixelTemplate,
	}
}

// ClickRequest holds the recognized fields of a track-click request.
// Timestamp is kept raw: an unparseable value falls back to server time
// instead of failing the call.
type ClickRequest struct {
	SessionID       string
	QuestionID      string
	OfferID         string
	ButtonVariantID string
	Timestamp       string
	UserAgent       string
	IPAddress       string
}

// ClickResult is the outcome of a recorded click.
type ClickResult struct {
	Click       *models.ClickTrack `json:"clickTrack"`
	RedirectURL string             `json:"redirectUrl"`
}

// RecordClick validates the request, mints a click record, renders the
// offer's destination URL and persists the record.
func (s *Service) RecordClick(ctx context.Context, req *ClickRequest) (*ClickResult, error) {
	if req.SessionID == "" || req.QuestionID == "" || req.OfferID == "" || req.ButtonVariantID == "" {
		return nil, &ValidationError{Message: "sessionId, questionId, offerId and buttonVariantId are required"}
	}

	offer, err := s.offers.GetOffer(ctx, req.OfferID)
	if err != nil {
		return nil, &StoreError{Op: "get offer", Err: err}
	}
	if offer == nil {
		return nil, &NotFoundError{Entity: "offer", ID: req.OfferID}
	}

	question, err := s.questions.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, &StoreError{Op: "get question", Err: err}
	}
	if question == nil {
		return nil, &NotFoundError{Entity: "question", ID: req.QuestionID}
	}

	userAgent, ipAddress := req.UserAgent, req.IPAddress
	if (userAgent == "" || ipAddress == "") && s.sessions != nil {
		if sess, err := s.sessions.GetSession(ctx, req.SessionID); err == nil && sess != nil {
			if userAgent == "" {
				userAgent = sess.UserAgent
			}
			if ipAddress == "" {
				ipAddress = sess.IPAddress
			}
		}
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != "" {
		if parsed, ok := parseTimestamp(req.Timestamp); ok {
			timestamp = parsed
		} else {
			s.logger.Debug("unparseable click timestamp, using server time",
				zap.String("timestamp", req.Timestamp),
				zap.String("session_id", req.SessionID),
			)
		}
	}

	click := &models.ClickTrack{
		ID:              uuid.New().String(),
		ClickID:         uuid.New().String(),
		SessionID:       req.SessionID,
		QuestionID:      req.QuestionID,
		OfferID:         req.OfferID,
		ButtonVariantID: req.ButtonVariantID,
		Status:          models.ClickStatusValid,
		Timestamp:       timestamp,
		UserAgent:       userAgent,
		IPAddress:       ipAddress,
	}

	if s.geo != nil && ipAddress != "" {
		if info := s.geo.Resolve(ipAddress); info != nil {
			click.GeoCountry = info.Country
			click.GeoRegion = info.Region
			click.GeoCity = info.City
		}
	}

	redirectURL := s.renderDestination(offer, click.ClickID, question.SurveyID)
	click.TargetURL = redirectURL

	if err := s.clicks.SaveClick(ctx, click); err != nil {
		if s.metrics != nil {
			s.metrics.RecordTrackingError("record_click", "store")
		}
		return nil, &StoreError{Op: "save click", Err: err}
	}

	if s.metrics != nil {
		s.metrics.RecordClick(offer.ID)
	}
	if s.hints != nil {
		s.hints.IncrClick(ctx, offer.ID)
	}
	if s.sink != nil {
		if err := s.sink.AppendClick(ctx, click); err != nil {
			s.logger.Warn("failed to mirror click event", zap.Error(err), zap.String("click_id", click.ClickID))
		}
	}

	s.logger.Info("click recorded",
		zap.String("click_id", click.ClickID),
		zap.String("offer_id", offer.ID),
		zap.String("session_id", req.SessionID),
	)

	return &ClickResult{Click: click, RedirectURL: redirectURL}, nil
}

// renderDestination substitutes tracking tokens into the offer's
// destination template. A malformed template degrades to the best-effort
// rendering; the click is still recorded.
func (s *Service) renderDestination(offer *models.Offer, clickID, surveyID string) string {
	tokens := urltemplate.Values(offer.Tokens)
	tokens[urltemplate.TokenClickID] = urltemplate.Escaped(clickID)
	tokens[urltemplate.TokenSurveyID] = urltemplate.Escaped(surveyID)

	rendered, err := urltemplate.Render(offer.DestinationURL, tokens)
	if err != nil {
		terr := &TemplatingError{OfferID: offer.ID, Err: err}
		s.logger.Warn("destination template malformed, using best-effort render",
			zap.String("offer_id", offer.ID),
			zap.Error(terr),
		)
		if s.metrics != nil {
			s.metrics.RecordTrackingError("record_click", "template")
		}
	}
	return rendered
}

// ConversionResult is the outcome of a conversion delivery.
type ConversionResult struct {
	Converted bool `json:"converted"`
}

// RecordConversion matches an inbound conversion signal to its click
// record and applies the converted transition at most once. Re-deliveries
// are idempotent: the stored revenue and timestamp keep their first-write
// values. Malformed revenue is ignored, never fatal.
func (s *Service) RecordConversion(ctx context.Context, clickID, rawRevenue string) (*ConversionResult, error) {
	if clickID == "" {
		return nil, &ValidationError{Message: "Click ID is required"}
	}

	var revenue *float64
	if rawRevenue != "" {
		if v, err := strconv.ParseFloat(rawRevenue, 64); err == nil && v >= 0 {
			revenue = &v
		} else {
			s.logger.Debug("ignoring malformed revenue",
				zap.String("click_id", clickID),
				zap.String("revenue", rawRevenue),
			)
		}
	}

	click, applied, err := s.clicks.MarkConverted(ctx, clickID, revenue, time.Now().UTC())
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTrackingError("record_conversion", "store")
		}
		return nil, &StoreError{Op: "mark converted", Err: err}
	}
	if click == nil {
		if s.metrics != nil {
			s.metrics.RecordTrackingError("record_conversion", "not_found")
		}
		return nil, &NotFoundError{Entity: "click", ID: clickID}
	}

	if !applied {
		s.logger.Debug("duplicate conversion delivery ignored", zap.String("click_id", clickID))
		return &ConversionResult{Converted: true}, nil
	}

	var recorded float64
	if click.Revenue != nil {
		recorded = *click.Revenue
	}

	if s.metrics != nil {
		s.metrics.RecordConversion(click.OfferID, recorded)
	}
	if s.hints != nil {
		s.hints.IncrConversion(ctx, click.OfferID, recorded)
	}
	if s.sink != nil {
		if err := s.sink.AppendConversion(ctx, click.ClickID, click.OfferID, recorded, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to mirror conversion event", zap.Error(err), zap.String("click_id", clickID))
		}
	}

	s.logger.Info("conversion recorded",
		zap.String("click_id", clickID),
		zap.String("offer_id", click.OfferID),
		zap.Float64("revenue", recorded),
	)

	return &ConversionResult{Converted: true}, nil
}

// GeneratePixelURL renders a conversion pixel URL for the given click and
// survey. When the click is known and its offer carries a pixel template,
// that template wins over the configured default.
func (s *Service) GeneratePixelURL(ctx context.Context, clickID, surveyID string) (string, error) {
	if clickID == "" || surveyID == "" {
		return "", &ValidationError{Message: "clickId and surveyId are required"}
	}

	tmpl := s.pixelTemplate
	if click, err := s.clicks.GetClickByClickID(ctx, clickID); err == nil && click != nil {
		if offer, err := s.offers.GetOffer(ctx, click.OfferID); err == nil && offer != nil && offer.PixelURL != "" {
			tmpl = offer.PixelURL
		}
	}

	rendered, err := urltemplate.Render(tmpl, map[string]urltemplate.Value{
		urltemplate.TokenClickID:  urltemplate.Escaped(clickID),
		urltemplate.TokenSurveyID: urltemplate.Escaped(surveyID),
	})
	if err != nil {
		s.logger.Warn("pixel template malformed, using best-effort render",
			zap.String("click_id", clickID),
			zap.Error(err),
		)
	}
	return rendered, nil
}

// ResolveRedirect returns the redirect URL recorded for a click, for the
// convenience 302 endpoint.
func (s *Service) ResolveRedirect(ctx context.Context, clickID string) (string, error) {
	if clickID == "" {
		return "", &ValidationError{Message: "Click ID is required"}
	}

	click, err := s.clicks.GetClickByClickID(ctx, clickID)
	if err != nil {
		return "", &StoreError{Op: "get click", Err: err}
	}
	if click == nil || click.TargetURL == "" {
		return "", &NotFoundError{Entity: "click", ID: clickID}
	}
	return click.TargetURL, nil
}

// parseTimestamp accepts RFC3339 strings and unix epoch seconds or
// milliseconds. Anything else is rejected so the caller falls back to
// server time.
func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}
