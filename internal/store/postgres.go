package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/procurement-engine/internal/model"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS deals (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	participants JSONB NOT NULL DEFAULT '[]',
	metadata     JSONB NOT NULL DEFAULT '{}',
	final        JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS deal_entries (
	seq       BIGSERIAL PRIMARY KEY,
	id        TEXT NOT NULL,
	deal_id   TEXT NOT NULL REFERENCES deals(id),
	kind      TEXT NOT NULL,
	sender    TEXT NOT NULL,
	round     INT NOT NULL DEFAULT 0,
	offer     JSONB,
	score     JSONB,
	note      TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS deal_entries_deal_idx ON deal_entries (deal_id, seq);
CREATE TABLE IF NOT EXISTS kv_records (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Offers and scores are stored as JSONB; prices inside them keep their exact
// decimal string form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateDeal(ctx context.Context, d *model.DealRecord) error {
	participants, err := json.Marshal(d.Participants)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return err
	}
	final, err := marshalNullable(d.Final)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO deals (id, status, participants, metadata, final, created_at, updated_at)
		 VALUES ($1, $2, $3::JSONB, $4::JSONB, $5::JSONB, $6, $7)`,
		d.ID, d.Status, participants, metadata, final, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("deal %s: %w", d.ID, ErrDuplicate)
		}
		return fmt.Errorf("create deal %s: %w", d.ID, err)
	}

	for _, list := range [][]model.DealEntry{d.Messages, d.NegotiationHistory, d.Agreements} {
		for _, e := range list {
			if err := insertEntry(ctx, tx, d.ID, e); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetDeal(ctx context.Context, id string) (*model.DealRecord, error) {
	var (
		d                      model.DealRecord
		participants, metadata []byte
		final                  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, participants, metadata, final, created_at, updated_at
		 FROM deals WHERE id = $1`, id).
		Scan(&d.ID, &d.Status, &participants, &metadata, &final, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("deal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get deal %s: %w", id, err)
	}
	if err := json.Unmarshal(participants, &d.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(final) > 0 {
		d.Final = &model.DealSnapshot{}
		if err := json.Unmarshal(final, d.Final); err != nil {
			return nil, fmt.Errorf("decode final: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, sender, round, offer, score, note, timestamp
		 FROM deal_entries WHERE deal_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		d.Append(e)
	}
	return &d, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context) ([]model.DealRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM deals ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	deals := make([]model.DealRecord, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDeal(ctx, id)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, nil
}

func (s *PostgresStore) AppendEntry(ctx context.Context, dealID string, e model.DealEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := touch(ctx, tx, dealID); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, dealID, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AddParticipant(ctx context.Context, dealID string, p model.Participant) error {
	data, err := json.Marshal([]model.Participant{p})
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals
		 SET participants = participants || $2::JSONB, updated_at = $3
		 WHERE id = $1
		   AND NOT EXISTS (SELECT 1 FROM jsonb_array_elements(participants) p WHERE p->>'id' = $4)`,
		dealID, data, time.Now().UTC(), p.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either already present or no such deal.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deals WHERE id = $1)`, dealID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
		}
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, dealID, status string, final *model.DealSnapshot) error {
	data, err := marshalNullable(final)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET status = $2, final = COALESCE($3::JSONB, final), updated_at = $4 WHERE id = $1`,
		dealID, status, data, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) LoadKV(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_records WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	return v, err
}

func (s *PostgresStore) SaveKV(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_records (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

func touch(ctx context.Context, tx pgx.Tx, dealID string) error {
	tag, err := tx.Exec(ctx, `UPDATE deals SET updated_at = $2 WHERE id = $1`, dealID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deal %s: %w", dealID, ErrNotFound)
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, dealID string, e model.DealEntry) error {
	offer, err := marshalNullable(e.Offer)
	if err != nil {
		return err
	}
	score, err := marshalNullable(e.Score)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO deal_entries (id, deal_id, kind, sender, round, offer, score, note, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::JSONB, $7::JSONB, $8, $9)`,
		e.ID, dealID, e.Kind, e.Sender, e.Round, offer, score, e.Note, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert entry into deal %s: %w", dealID, err)
	}
	return nil
}

// pgxRows is the subset of pgx.Rows used by scanEntries.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEntries(rows pgxRows) ([]model.DealEntry, error) {
	var entries []model.DealEntry
	for rows.Next() {
		var (
			e            model.DealEntry
			offer, score []byte
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Sender, &e.Round, &offer, &score, &e.Note, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(offer) > 0 {
			e.Offer = &model.Offer{}
			if err := json.Unmarshal(offer, e.Offer); err != nil {
				return nil, fmt.Errorf("decode offer: %w", err)
			}
		}
		if len(score) > 0 {
			e.Score = &model.ScoreResult{}
			if err := json.Unmarshal(score, e.Score); err != nil {
				return nil, fmt.Errorf("decode score: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// marshalNullable returns nil for a nil pointer so the column stays NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
