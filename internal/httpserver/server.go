package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/config"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/database"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/geo"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/metrics"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/middleware"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/storage"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/tracking"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB      *database.PostgresDB
	Redis   *database.RedisDB
	Sink    storage.EventSink
	Geo     *geo.Provider
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server wraps HTTP handlers around the tracking service.
type Server struct {
	tracking  *tracking.Service
	offers    storage.OfferStore
	questions storage.QuestionStore
	sessions  storage.SessionStore
	hints     *tracking.MetricsHint
	logger    *zap.Logger
	config    *config.Config
	metrics   *metrics.Metrics
}

// geoAdapter bridges the GeoIP provider to the tracking service.
type geoAdapter struct {
	provider *geo.Provider
	logger   *zap.Logger
}

func (g *geoAdapter) Resolve(ip string) *tracking.GeoInfo {
	info, err := g.provider.Lookup(ip)
	if err != nil {
		g.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}
	return &tracking.GeoInfo{
		Country: info.CountryCode,
		Region:  info.Region,
		City:    info.City,
	}
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	var clicks storage.ClickTrackStore
	var offers storage.OfferStore
	var questions storage.QuestionStore
	var sessions storage.SessionStore

	if deps.DB != nil {
		clicks = storage.NewPostgresClickTrackStore(deps.DB.Pool)
		offers = storage.NewPostgresOfferStore(deps.DB.Pool)
		questions = storage.NewPostgresQuestionStore(deps.DB.Pool)
		sessions = storage.NewPostgresSessionStore(deps.DB.Pool)
	} else {
		clicks = storage.NewInMemoryClickTrackStore()
		offers = storage.NewInMemoryOfferStore()
		questions = storage.NewInMemoryQuestionStore()
		sessions = storage.NewInMemorySessionStore()
	}

	var hints *tracking.MetricsHint
	if deps.Redis != nil {
		hints = tracking.NewMetricsHint(deps.Redis.Client)
	}

	var resolver tracking.GeoResolver
	if deps.Geo != nil {
		resolver = &geoAdapter{provider: deps.Geo, logger: deps.Logger}
	}

	svc := tracking.NewService(tracking.Deps{
		Clicks:        clicks,
		Offers:        offers,
		Questions:     questions,
		Sessions:      sessions,
		Sink:          deps.Sink,
		Hints:         hints,
		Geo:           resolver,
		Metrics:       deps.Metrics,
		Logger:        deps.Logger,
		PixelTemplate: deps.Config.Tracking.PixelURLTemplate(),
	})

	s := &Server{
		tracking:  svc,
		offers:    offers,
		questions: questions,
		sessions:  sessions,
		hints:     hints,
		logger:    deps.Logger,
		config:    deps.Config,
		metrics:   deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tracking endpoints
	mux.HandleFunc("/api/track/click", s.handleTrackClick)
	mux.HandleFunc("/api/track/conversion", s.handleConversion)
	mux.HandleFunc("/api/track/analytics", s.handleAnalytics)
	mux.HandleFunc("/api/track/pixel", s.handlePixel)

	// Click redirect
	mux.HandleFunc("/r/", s.handleRedirect)

	// Offer management
	mux.HandleFunc("/api/offers", s.handleOffers)
	mux.HandleFunc("/api/offers/", s.handleOfferByID)

	// Questions and sessions
	mux.HandleFunc("/api/questions", s.handleQuestions)
	mux.HandleFunc("/api/questions/", s.handleQuestionByID)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)

	return mux
}

// apiResponse is the envelope every JSON endpoint responds with.
type apiResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Click Tracking ----

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Unknown fields in the payload are ignored rather than rejected, so
	// client SDK additions never break older servers.
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	req := &tracking.ClickRequest{
		SessionID:       stringField(body, "sessionId"),
		QuestionID:      stringField(body, "questionId"),
		OfferID:         stringField(body, "offerId"),
		ButtonVariantID: stringField(body, "buttonVariantId"),
		Timestamp:       stringField(body, "timestamp"),
		UserAgent:       stringField(body, "userAgent"),
		IPAddress:       stringField(body, "ipAddress"),
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	if req.IPAddress == "" {
		req.IPAddress = middleware.ClientIP(r)
	}

	result, err := s.tracking.RecordClick(r.Context(), req)
	if err != nil {
		s.trackingError(w, "track click", err)
		return
	}

	s.jsonResponse(w, result)
}

// ---- Conversion ----

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Affiliate network postbacks arrive as GET with query params; our own
	// pixel endpoint POSTs JSON. Query params win when both are present.
	q := r.URL.Query()
	clickID := q.Get("click_id")
	revenue := q.Get("revenue")

	if clickID == "" && r.Method == http.MethodPost {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			clickID = stringField(body, "click_id")
			if clickID == "" {
				clickID = stringField(body, "clickId")
			}
			if revenue == "" {
				revenue = stringField(body, "revenue")
			}
		}
	}

	result, err := s.tracking.RecordConversion(r.Context(), clickID, revenue)
	if err != nil {
		s.trackingError(w, "track conversion", err)
		return
	}

	s.jsonResponse(w, result)
}

// ---- Analytics ----

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offerID := r.URL.Query().Get("offerId")
	if offerID == "" {
		offerID = r.URL.Query().Get("offer_id")
	}

	analytics, err := s.tracking.GetAnalytics(r.Context(), offerID)
	if err != nil {
		s.trackingError(w, "get analytics", err)
		return
	}

	s.jsonResponse(w, analytics)
}

// ---- Conversion Pixel ----

func (s *Server) handlePixel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	clickID := stringField(body, "clickId")
	surveyID := stringField(body, "surveyId")

	url, err := s.tracking.GeneratePixelURL(r.Context(), clickID, surveyID)
	if err != nil {
		s.trackingError(w, "generate pixel", err)
		return
	}

	s.jsonResponse(w, map[string]string{"pixelUrl": url})
}

// ---- Click Redirect ----

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clickID := strings.TrimPrefix(r.URL.Path, "/r/")
	if clickID == "" {
		clickID = r.URL.Query().Get("click_id")
	}
	if clickID == "" {
		http.NotFound(w, r)
		return
	}

	url, err := s.tracking.ResolveRedirect(r.Context(), clickID)
	if err != nil {
		// Redirects go to browsers, not API clients; a plain 404 beats a
		// JSON envelope here.
		http.NotFound(w, r)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// ---- Offers CRUD ----

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.offers.ListOffers(r.Context())
		if err != nil {
			s.logger.Error("failed to list offers", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var o models.Offer
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if o.ID == "" || o.DestinationURL == "" {
			s.errorResponse(w, "id and destinationUrl are required", http.StatusBadRequest)
			return
		}
		if err := s.offers.UpsertOffer(r.Context(), &o); err != nil {
			s.logger.Error("failed to save offer", zap.Error(err))
			s.errorResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.jsonResponse(w, o)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOfferByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/offers/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	offer, err := s.offers.GetOffer(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get offer", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if offer == nil {
		s.errorResponse(w, "offer not found", http.StatusNotFound)
		return
	}

	if s.hints != nil {
		offer.Metrics = s.hints.Snapshot(r.Context(), offer.ID)
	}

	s.jsonResponse(w, offer)
}

// ---- Questions ----

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var q models.Question
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if q.ID == "" || q.SurveyID == "" {
		s.errorResponse(w, "id and surveyId are required", http.StatusBadRequest)
		return
	}
	if err := s.questions.UpsertQuestion(r.Context(), &q); err != nil {
		s.logger.Error("failed to save question", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, q)
}

func (s *Server) handleQuestionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/questions/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := s.questions.GetQuestion(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get question", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if q == nil {
		s.errorResponse(w, "question not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, q)
}

// ---- Sessions ----

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sess models.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if sess.ID == "" {
		s.errorResponse(w, "id is required", http.StatusBadRequest)
		return
	}
	if sess.UserAgent == "" {
		sess.UserAgent = r.UserAgent()
	}
	if sess.IPAddress == "" {
		sess.IPAddress = middleware.ClientIP(r)
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	if err := s.sessions.UpsertSession(r.Context(), &sess); err != nil {
		s.logger.Error("failed to save session", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, sess)
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get session", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		s.errorResponse(w, "session not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, sess)
}

// ---- Helper Methods ----

// trackingError maps the service error taxonomy onto HTTP. Validation
// failures carry their message at 400; everything else, including missing
// offers and click records, collapses into a generic 500 so callers
// cannot probe which identifiers exist.
func (s *Server) trackingError(w http.ResponseWriter, op string, err error) {
	var verr *tracking.ValidationError
	if errors.As(err, &verr) {
		s.errorResponse(w, verr.Message, http.StatusBadRequest)
		return
	}

	var nferr *tracking.NotFoundError
	if errors.As(err, &nferr) {
		s.logger.Warn(op+" failed", zap.Error(err))
	} else {
		s.logger.Error(op+" failed", zap.Error(err))
	}
	s.errorResponse(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC(),
	})
}

// stringField pulls a string out of a loosely typed JSON body. Numbers
// are stringified so numeric timestamps and revenues survive.
func stringField(body map[string]interface{}, key string) string {
	v, ok := body[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return ""
	}
}
