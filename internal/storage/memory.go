package storage

import (
	"context"
	"sync"
	"time"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
)

// In-memory implementations. Used in tests and as the fallback when
// PostgreSQL is unavailable.

// InMemoryClickTrackStore stores click records in memory, keyed by clickId.
type InMemoryClickTrackStore struct {
	mu     sync.RWMutex
	clicks map[string]*models.ClickTrack
}

func NewInMemoryClickTrackStore() *InMemoryClickTrackStore {
	return &InMemoryClickTrackStore{
		clicks: make(map[string]*models.ClickTrack),
	}
}

func (s *InMemoryClickTrackStore) SaveClick(ctx context.Context, click *models.ClickTrack) error {
	if click == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *click
	s.clicks[click.ClickID] = &cp
	return nil
}

func (s *InMemoryClickTrackStore) GetClickByClickID(ctx context.Context, clickID string) (*models.ClickTrack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.clicks[clickID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *InMemoryClickTrackStore) MarkConverted(ctx context.Context, clickID string, revenue *float64, at time.Time) (*models.ClickTrack, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clicks[clickID]
	if !ok {
		return nil, false, nil
	}
	if c.Converted {
		cp := *c
		return &cp, false, nil
	}

	c.Converted = true
	convertedAt := at
	c.ConvertedAt = &convertedAt
	if revenue != nil {
		rev := *revenue
		c.Revenue = &rev
	}

	cp := *c
	return &cp, true, nil
}

func (s *InMemoryClickTrackStore) Aggregate(ctx context.Context, offerID string) (ClickAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg ClickAggregate
	for _, c := range s.clicks {
		if offerID != "" && c.OfferID != offerID {
			continue
		}
		agg.TotalClicks++
		if c.Converted {
			agg.Conversions++
			if c.Revenue != nil {
				agg.TotalRevenue += *c.Revenue
			}
		}
	}
	return agg, nil
}

// InMemoryOfferStore stores offers in memory.
type InMemoryOfferStore struct {
	mu     sync.RWMutex
	offers map[string]*models.Offer
}

func NewInMemoryOfferStore() *InMemoryOfferStore {
	return &InMemoryOfferStore{offers: make(map[string]*models.Offer)}
}

func (s *InMemoryOfferStore) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.offers[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (s *InMemoryOfferStore) ListOffers(ctx context.Context) ([]*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.Offer, 0, len(s.offers))
	for _, o := range s.offers {
		cp := *o
		res = append(res, &cp)
	}
	return res, nil
}

func (s *InMemoryOfferStore) UpsertOffer(ctx context.Context, offer *models.Offer) error {
	if offer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *offer
	s.offers[offer.ID] = &cp
	return nil
}

// InMemoryQuestionStore stores questions in memory.
type InMemoryQuestionStore struct {
	mu        sync.RWMutex
	questions map[string]*models.Question
}

func NewInMemoryQuestionStore() *InMemoryQuestionStore {
	return &InMemoryQuestionStore{questions: make(map[string]*models.Question)}
}

func (s *InMemoryQuestionStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.questions[id]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (s *InMemoryQuestionStore) UpsertQuestion(ctx context.Context, q *models.Question) error {
	if q == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.questions[q.ID] = &cp
	return nil
}

// InMemorySessionStore stores respondent sessions in memory.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*models.Session)}
}

func (s *InMemorySessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

func (s *InMemorySessionStore) UpsertSession(ctx context.Context, sess *models.Session) error {
	if sess == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}
