package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/models"
)

// ClickHouseEventSink mirrors tracking events into ClickHouse for offline
// reporting. The mirror is append-only and never read by the tracking core;
// analytics queries always go through the ClickTrackStore.
type ClickHouseEventSink struct {
	conn driver.Conn
}

// NewClickHouseEventSink opens a ClickHouse connection from a DSN and
// verifies connectivity with a ping.
func NewClickHouseEventSink(dsn string) (*ClickHouseEventSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	return &ClickHouseEventSink{conn: conn}, nil
}

func (s *ClickHouseEventSink) AppendClick(ctx context.Context, click *models.ClickTrack) error {
	if click == nil {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO click_events (
			click_id, session_id, question_id, offer_id, button_variant_id,
			status, geo_country, event_time, inserted_at
		)
	`)
	if err != nil {
		return err
	}

	if err := batch.Append(
		click.ClickID,
		click.SessionID,
		click.QuestionID,
		click.OfferID,
		click.ButtonVariantID,
		string(click.Status),
		click.GeoCountry,
		click.Timestamp,
		time.Now(),
	); err != nil {
		return err
	}

	return batch.Send()
}

func (s *ClickHouseEventSink) AppendConversion(ctx context.Context, clickID, offerID string, revenue float64, at time.Time) error {
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO conversion_events (
			click_id, offer_id, revenue, event_time, inserted_at
		)
	`)
	if err != nil {
		return err
	}

	if err := batch.Append(clickID, offerID, revenue, at, time.Now()); err != nil {
		return err
	}

	return batch.Send()
}

// Close releases the ClickHouse connection.
func (s *ClickHouseEventSink) Close() error {
	return s.conn.Close()
}
