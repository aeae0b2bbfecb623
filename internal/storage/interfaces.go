package storage

import (
	"context"
	"time"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
)

// ClickAggregate is the raw rollup analytics are computed from.
type ClickAggregate struct {
	TotalClicks  int64
	Conversions  int64
	TotalRevenue float64
}

// ClickTrackStore persists click records. Clicks are insert-only; the sole
// mutation is the conditional conversion update, which implementations must
// apply atomically against the current converted state.
type ClickTrackStore interface {
	SaveClick(ctx context.Context, click *models.ClickTrack) error

	// GetClickByClickID returns nil, nil when no record matches.
	GetClickByClickID(ctx context.Context, clickID string) (*models.ClickTrack, error)

	// MarkConverted flips converted false -> true for the given clickId.
	// Returns the stored record (nil when not found) and whether this call
	// applied the transition. Already-converted records are returned
	// untouched with applied=false; revenue and convertedAt keep their
	// first-write values.
	MarkConverted(ctx context.Context, clickID string, revenue *float64, at time.Time) (click *models.ClickTrack, applied bool, err error)

	// Aggregate counts clicks, conversions and converted revenue,
	// optionally filtered by offer. An empty offerID aggregates everything.
	Aggregate(ctx context.Context, offerID string) (ClickAggregate, error)
}

// OfferStore provides read/write access to affiliate offers.
type OfferStore interface {
	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	ListOffers(ctx context.Context) ([]*models.Offer, error)
	UpsertOffer(ctx context.Context, offer *models.Offer) error
}

// QuestionStore resolves questions to their surveys.
type QuestionStore interface {
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	UpsertQuestion(ctx context.Context, q *models.Question) error
}

// SessionStore provides respondent session lookups.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpsertSession(ctx context.Context, sess *models.Session) error
}

// EventSink receives a best-effort append-only mirror of tracking events
// for offline analytics. Sink failures never fail the tracking call.
type EventSink interface {
	AppendClick(ctx context.Context, click *models.ClickTrack) error
	AppendConversion(ctx context.Context, clickID, offerID string, revenue float64, at time.Time) error
	Close() error
}
