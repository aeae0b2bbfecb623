package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
)

// PostgresClickTrackStore implements ClickTrackStore using PostgreSQL.
// click_tracks carries a unique index on click_id.
type PostgresClickTrackStore struct {
	pool *pgxpool.Pool
}

func NewPostgresClickTrackStore(pool *pgxpool.Pool) *PostgresClickTrackStore {
	return &PostgresClickTrackStore{pool: pool}
}

const clickTrackColumns = `
	id, click_id, session_id, question_id, offer_id, button_variant_id,
	status, timestamp, user_agent, ip_address,
	geo_country, geo_region, geo_city, target_url,
	converted, revenue, converted_at`

func (s *PostgresClickTrackStore) SaveClick(ctx context.Context, click *models.ClickTrack) error {
	if click == nil {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO click_tracks (`+clickTrackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		click.ID, click.ClickID, click.SessionID, click.QuestionID, click.OfferID, click.ButtonVariantID,
		string(click.Status), click.Timestamp, nullString(click.UserAgent), nullString(click.IPAddress),
		nullString(click.GeoCountry), nullString(click.GeoRegion), nullString(click.GeoCity), nullString(click.TargetURL),
		click.Converted, click.Revenue, click.ConvertedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save click: %w", err)
	}
	return nil
}

func (s *PostgresClickTrackStore) GetClickByClickID(ctx context.Context, clickID string) (*models.ClickTrack, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+clickTrackColumns+`
		FROM click_tracks WHERE click_id = $1
	`, clickID)

	click, err := scanClickTrack(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get click: %w", err)
	}
	return click, nil
}

// MarkConverted applies the conversion transition as a single conditional
// UPDATE so concurrent duplicate deliveries race on the database, not on a
// read-modify-write in this process.
func (s *PostgresClickTrackStore) MarkConverted(ctx context.Context, clickID string, revenue *float64, at time.Time) (*models.ClickTrack, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE click_tracks
		SET converted = TRUE, converted_at = $2, revenue = $3
		WHERE click_id = $1 AND converted = FALSE
		RETURNING `+clickTrackColumns+`
	`, clickID, at, revenue)

	click, err := scanClickTrack(row)
	if err == nil {
		return click, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("failed to mark converted: %w", err)
	}

	// Either the click does not exist or it was already converted.
	click, err = s.GetClickByClickID(ctx, clickID)
	if err != nil {
		return nil, false, err
	}
	return click, false, nil
}

func (s *PostgresClickTrackStore) Aggregate(ctx context.Context, offerID string) (ClickAggregate, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE converted),
		       COALESCE(SUM(revenue) FILTER (WHERE converted), 0)
		FROM click_tracks`

	var row pgx.Row
	if offerID != "" {
		row = s.pool.QueryRow(ctx, query+` WHERE offer_id = $1`, offerID)
	} else {
		row = s.pool.QueryRow(ctx, query)
	}

	var agg ClickAggregate
	if err := row.Scan(&agg.TotalClicks, &agg.Conversions, &agg.TotalRevenue); err != nil {
		return ClickAggregate{}, fmt.Errorf("failed to aggregate clicks: %w", err)
	}
	return agg, nil
}

func scanClickTrack(row pgx.Row) (*models.ClickTrack, error) {
	var c models.ClickTrack
	var status string
	var userAgent, ipAddress, geoCountry, geoRegion, geoCity, targetURL *string

	err := row.Scan(
		&c.ID, &c.ClickID, &c.SessionID, &c.QuestionID, &c.OfferID, &c.ButtonVariantID,
		&status, &c.Timestamp, &userAgent, &ipAddress,
		&geoCountry, &geoRegion, &geoCity, &targetURL,
		&c.Converted, &c.Revenue, &c.ConvertedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = models.ClickStatus(status)
	c.UserAgent = derefString(userAgent)
	c.IPAddress = derefString(ipAddress)
	c.GeoCountry = derefString(geoCountry)
	c.GeoRegion = derefString(geoRegion)
	c.GeoCity = derefString(geoCity)
	c.TargetURL = derefString(targetURL)
	return &c, nil
}

// PostgresOfferStore implements OfferStore using PostgreSQL.
type PostgresOfferStore struct {
	pool *pgxpool.Pool
}

func NewPostgresOfferStore(pool *pgxpool.Pool) *PostgresOfferStore {
	return &PostgresOfferStore{pool: pool}
}

func (s *PostgresOfferStore) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var o models.Offer
	var pixelURL *string
	var tokensJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, name, destination_url, pixel_url, tokens, active, created_at, updated_at
		FROM offers WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.DestinationURL, &pixelURL, &tokensJSON, &o.Active, &o.CreatedAt, &o.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}

	o.PixelURL = derefString(pixelURL)
	if len(tokensJSON) > 0 {
		if err := json.Unmarshal(tokensJSON, &o.Tokens); err != nil {
			return nil, fmt.Errorf("failed to parse offer tokens: %w", err)
		}
	}
	return &o, nil
}

func (s *PostgresOfferStore) ListOffers(ctx context.Context) ([]*models.Offer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, destination_url, pixel_url, tokens, active, created_at, updated_at
		FROM offers ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		var o models.Offer
		var pixelURL *string
		var tokensJSON []byte

		if err := rows.Scan(&o.ID, &o.Name, &o.DestinationURL, &pixelURL, &tokensJSON, &o.Active, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.PixelURL = derefString(pixelURL)
		if len(tokensJSON) > 0 {
			if err := json.Unmarshal(tokensJSON, &o.Tokens); err != nil {
				return nil, fmt.Errorf("failed to parse offer tokens: %w", err)
			}
		}
		offers = append(offers, &o)
	}
	return offers, rows.Err()
}

func (s *PostgresOfferStore) UpsertOffer(ctx context.Context, offer *models.Offer) error {
	tokensJSON, err := json.Marshal(offer.Tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal offer tokens: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO offers (id, name, destination_url, pixel_url, tokens, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			destination_url = EXCLUDED.destination_url,
			pixel_url = EXCLUDED.pixel_url,
			tokens = EXCLUDED.tokens,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, offer.ID, offer.Name, offer.DestinationURL, nullString(offer.PixelURL), tokensJSON, offer.Active, offer.CreatedAt, offer.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert offer: %w", err)
	}
	return nil
}

// PostgresQuestionStore implements QuestionStore using PostgreSQL.
type PostgresQuestionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresQuestionStore(pool *pgxpool.Pool) *PostgresQuestionStore {
	return &PostgresQuestionStore{pool: pool}
}

func (s *PostgresQuestionStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	var q models.Question
	var qType, text *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, survey_id, type, text FROM questions WHERE id = $1
	`, id).Scan(&q.ID, &q.SurveyID, &qType, &text)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	q.Type = derefString(qType)
	q.Text = derefString(text)
	return &q, nil
}

func (s *PostgresQuestionStore) UpsertQuestion(ctx context.Context, q *models.Question) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO questions (id, survey_id, type, text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			survey_id = EXCLUDED.survey_id,
			type = EXCLUDED.type,
			text = EXCLUDED.text
	`, q.ID, q.SurveyID, nullString(q.Type), nullString(q.Text))

	if err != nil {
		return fmt.Errorf("failed to upsert question: %w", err)
	}
	return nil
}

// PostgresSessionStore implements SessionStore using PostgreSQL.
type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

func (s *PostgresSessionStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var surveyID, userAgent, ipAddress *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, survey_id, user_agent, ip_address, created_at FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &surveyID, &userAgent, &ipAddress, &sess.CreatedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.SurveyID = derefString(surveyID)
	sess.UserAgent = derefString(userAgent)
	sess.IPAddress = derefString(ipAddress)
	return &sess, nil
}

func (s *PostgresSessionStore) UpsertSession(ctx context.Context, sess *models.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, survey_id, user_agent, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			survey_id = EXCLUDED.survey_id,
			user_agent = EXCLUDED.user_agent,
			ip_address = EXCLUDED.ip_address
	`, sess.ID, nullString(sess.SurveyID), nullString(sess.UserAgent), nullString(sess.IPAddress), sess.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
