package models

import "time"

// ClickStatus classifies a click record at creation time.
type ClickStatus string

const (
	// ClickStatusValid marks a click that passed business validation.
	ClickStatusValid ClickStatus = "VALID"
	// ClickStatusInvalid marks a click rejected by a business rule.
	// Hard failures (missing offer, store errors) never produce a record.
	ClickStatusInvalid ClickStatus = "INVALID"
)

// ClickTrack is the central tracking entity. One row per tracked click;
// mutated at most once when a conversion is matched against it.
type ClickTrack struct {
	ID              string      `json:"id"`
	ClickID         string      `json:"clickId"`
	SessionID       string      `json:"sessionId"`
	QuestionID      string      `json:"questionId"`
	OfferID         string      `json:"offerId"`
	ButtonVariantID string      `json:"buttonVariantId"`
	Status          ClickStatus `json:"status"`
	Timestamp       time.Time   `json:"timestamp"`
	UserAgent       string      `json:"userAgent,omitempty"`
	IPAddress       string      `json:"ipAddress,omitempty"`
	GeoCountry      string      `json:"geoCountry,omitempty"`
	GeoRegion       string      `json:"geoRegion,omitempty"`
	GeoCity         string      `json:"geoCity,omitempty"`
	TargetURL       string      `json:"targetUrl,omitempty"`
	Converted       bool        `json:"converted"`
	Revenue         *float64    `json:"revenue,omitempty"`
	ConvertedAt     *time.Time  `json:"convertedAt,omitempty"`
}

// Offer is an affiliate offer referenced by CTA buttons. DestinationURL and
// PixelURL are templates containing {token} placeholders resolved per click.
type Offer struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DestinationURL string    `json:"destinationUrl"`
	PixelURL       string    `json:"pixelUrl,omitempty"`
	// Tokens holds static affiliate parameters baked into the templates,
	// e.g. a referral code. Merged into every render.
	Tokens    map[string]string `json:"tokens,omitempty"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`

	// Metrics is a denormalized hint populated from Redis counters.
	// Never authoritative; analytics are always recomputed from
	// ClickTrack records.
	Metrics *OfferMetrics `json:"metrics,omitempty"`
}

// OfferMetrics is the advisory counter snapshot attached to an offer.
type OfferMetrics struct {
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// Question is a survey question. CTA_OFFER questions carry offer buttons
// whose clicks are tracked. Owned by the survey authoring side; the
// tracking core only resolves question -> survey.
type Question struct {
	ID       string `json:"id"`
	SurveyID string `json:"surveyId"`
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Session is a respondent session. The tracking core reads it only to
// backfill request metadata missing from a click.
type Session struct {
	ID        string    `json:"id"`
	SurveyID  string    `json:"surveyId,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
