package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"basegraph.app/intake/core/db"
	"basegraph.app/intake/internal/model"
)

const outboxColumns = `id, created_at, event_type, payload, destination, status, retry_count,
	max_retries, last_error, published_at, correlation_id, causation_id`

const uniqueViolation = "23505"

type outboxStore struct {
	q db.Querier
}

func newOutboxStore(q db.Querier) OutboxStore {
	return &outboxStore{q: q}
}

func (s *outboxStore) Add(ctx context.Context, entry *model.OutboxEntry) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO outbox_entries (`+outboxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID,
		entry.CreatedAt,
		string(entry.EventType),
		[]byte(entry.Payload),
		entry.Destination,
		string(entry.Status),
		entry.RetryCount,
		entry.MaxRetries,
		entry.LastError,
		entry.PublishedAt,
		entry.CorrelationID,
		entry.CausationID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		}
		return fmt.Errorf("inserting outbox entry: %w", err)
	}
	return nil
}

func (s *outboxStore) GetPending(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_entries
		WHERE status IN ('PENDING', 'FAILED')
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending outbox entries: %w", err)
	}
	return collectOutbox(rows)
}

func (s *outboxStore) GetDeadLetters(ctx context.Context, limit int) ([]model.OutboxEntry, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_entries
		WHERE status = 'DEAD_LETTER'
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying dead-letter outbox entries: %w", err)
	}
	return collectOutbox(rows)
}

func (s *outboxStore) GetByID(ctx context.Context, id int64) (*model.OutboxEntry, error) {
	rows, err := s.q.Query(ctx, `SELECT `+outboxColumns+` FROM outbox_entries WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("querying outbox entry: %w", err)
	}
	entries, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

func (s *outboxStore) Update(ctx context.Context, entry *model.OutboxEntry) error {
	from := make([]string, 0, 2)
	for _, st := range entry.Status.Predecessors() {
		from = append(from, string(st))
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE outbox_entries
		SET status = $2,
		    retry_count = GREATEST(retry_count, $3),
		    max_retries = $4,
		    last_error = $5,
		    published_at = $6
		WHERE id = $1 AND status = ANY($7)`,
		entry.ID,
		string(entry.Status),
		entry.RetryCount,
		entry.MaxRetries,
		entry.LastError,
		entry.PublishedAt,
		from,
	)
	if err != nil {
		return fmt.Errorf("updating outbox entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := s.GetByID(ctx, entry.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: id=%d status=%s, refusing %s", ErrTerminalState, entry.ID, current.Status, entry.Status)
}

func (s *outboxStore) CountByStatus(ctx context.Context) (map[model.OutboxStatus]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT status, count(*) FROM outbox_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting outbox entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.OutboxStatus]int64, 4)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning outbox count: %w", err)
		}
		st, err := model.ParseOutboxStatus(status)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func collectOutbox(rows pgx.Rows) ([]model.OutboxEntry, error) {
	defer rows.Close()

	entries := []model.OutboxEntry{}
	for rows.Next() {
		var (
			e         model.OutboxEntry
			eventType string
			status    string
			payload   []byte
		)
		if err := rows.Scan(
			&e.ID,
			&e.CreatedAt,
			&eventType,
			&payload,
			&e.Destination,
			&status,
			&e.RetryCount,
			&e.MaxRetries,
			&e.LastError,
			&e.PublishedAt,
			&e.CorrelationID,
			&e.CausationID,
		); err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}

		var err error
		if e.EventType, err = model.ParseOutboxEventType(eventType); err != nil {
			return nil, err
		}
		if e.Status, err = model.ParseOutboxStatus(status); err != nil {
			return nil, err
		}
		e.Payload = payload
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox entries: %w", err)
	}
	return entries, nil
}
