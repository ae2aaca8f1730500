package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"basegraph.app/intake/core/db"
	"basegraph.app/intake/internal/model"
)

const intakeEventColumns = `id, event_type, created_at, content, content_type, domain, priority, category,
	product_potential, product_signals, routed_to, processed, metadata, dedupe_key`

type intakeEventStore struct {
	q db.Querier
}

func newIntakeEventStore(q db.Querier) IntakeEventStore {
	return &intakeEventStore{q: q}
}

func (s *intakeEventStore) Create(ctx context.Context, event *model.IntakeEvent) error {
	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return err
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO intake_events (`+intakeEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID,
		string(event.Type),
		event.Timestamp,
		event.Content,
		string(event.ContentType),
		nullable(string(event.Domain)),
		nullable(string(event.Priority)),
		nullable(event.Category),
		event.ProductPotential,
		signals(event.ProductSignals),
		nullable(string(event.RoutedTo)),
		event.Processed,
		metadata,
		event.DedupeKey,
	)
	if err != nil {
		return fmt.Errorf("inserting intake event: %w", err)
	}
	return nil
}

func (s *intakeEventStore) CreateOrGet(ctx context.Context, event *model.IntakeEvent) (*model.IntakeEvent, bool, error) {
	if event.DedupeKey == nil || *event.DedupeKey == "" {
		if err := s.Create(ctx, event); err != nil {
			return nil, false, err
		}
		return event, true, nil
	}

	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return nil, false, err
	}

	tag, err := s.q.Exec(ctx, `
		INSERT INTO intake_events (`+intakeEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, NULL, 0, '{}', NULL, FALSE, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		event.ID,
		string(event.Type),
		event.Timestamp,
		event.Content,
		string(event.ContentType),
		metadata,
		event.DedupeKey,
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting intake event: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return event, true, nil
	}

	existing, err := s.getBy(ctx, "dedupe_key", *event.DedupeKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *intakeEventStore) GetByID(ctx context.Context, id string) (*model.IntakeEvent, error) {
	return s.getBy(ctx, "id", id)
}

func (s *intakeEventStore) getBy(ctx context.Context, column, value string) (*model.IntakeEvent, error) {
	row := s.q.QueryRow(ctx, `SELECT `+intakeEventColumns+` FROM intake_events WHERE `+column+` = $1`, value)
	event, err := scanIntakeEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return event, nil
}

func (s *intakeEventStore) UpdateClassification(ctx context.Context, event *model.IntakeEvent) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE intake_events
		SET domain = $2, priority = $3, category = $4, product_potential = $5,
		    product_signals = $6, routed_to = $7
		WHERE id = $1`,
		event.ID,
		nullable(string(event.Domain)),
		nullable(string(event.Priority)),
		nullable(event.Category),
		event.ProductPotential,
		signals(event.ProductSignals),
		nullable(string(event.RoutedTo)),
	)
	if err != nil {
		return fmt.Errorf("updating intake event classification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessed is idempotent; the flag never goes back to false.
func (s *intakeEventStore) MarkProcessed(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `UPDATE intake_events SET processed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking intake event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *intakeEventStore) ListUnprocessed(ctx context.Context, limit int) ([]model.IntakeEvent, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+intakeEventColumns+`
		FROM intake_events
		WHERE NOT processed
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed intake events: %w", err)
	}
	defer rows.Close()

	events := []model.IntakeEvent{}
	for rows.Next() {
		event, err := scanIntakeEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating intake events: %w", err)
	}
	return events, nil
}

func scanIntakeEvent(row pgx.Row) (*model.IntakeEvent, error) {
	var (
		e                                  model.IntakeEvent
		eventType, contentType             string
		domain, priority, category, routed *string
		metadata                           []byte
	)
	if err := row.Scan(
		&e.ID,
		&eventType,
		&e.Timestamp,
		&e.Content,
		&contentType,
		&domain,
		&priority,
		&category,
		&e.ProductPotential,
		&e.ProductSignals,
		&routed,
		&e.Processed,
		&metadata,
		&e.DedupeKey,
	); err != nil {
		return nil, err
	}

	var err error
	if e.Type, err = model.ParseEventType(eventType); err != nil {
		return nil, err
	}
	if e.ContentType, err = model.ParseContentType(contentType); err != nil {
		return nil, err
	}
	if domain != nil {
		if e.Domain, err = model.ParseDomain(*domain); err != nil {
			return nil, err
		}
	}
	if priority != nil {
		if e.Priority, err = model.ParsePriority(*priority); err != nil {
			return nil, err
		}
	}
	if routed != nil {
		if e.RoutedTo, err = model.ParseRoute(*routed); err != nil {
			return nil, err
		}
	}
	if category != nil {
		e.Category = *category
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding intake event metadata: %w", err)
		}
	}
	return &e, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal intake event metadata: %w", err)
	}
	return data, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func signals(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
