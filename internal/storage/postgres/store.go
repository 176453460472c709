package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedKeeper/internal/model"
	"feedKeeper/internal/storage"
)

var (
	_ storage.DeadLetterSink  = (*Store)(nil)
	_ storage.ObservationSink = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id UUID PRIMARY KEY,
	target_id BIGINT NOT NULL,
	pool_id TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	final_attempts SMALLINT NOT NULL,
	reason TEXT NOT NULL,
	request JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	pool_id TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	tx_hash TEXT NOT NULL,
	log_index INTEGER NOT NULL,
	points JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_id, sequence)
);
CREATE TABLE IF NOT EXISTS decode_errors (
	block_number BIGINT NOT NULL,
	tx_hash TEXT NOT NULL,
	log_index INTEGER NOT NULL,
	address TEXT NOT NULL,
	topic0 TEXT NOT NULL,
	error TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tx_hash, log_index)
);
`

// Store provides Postgres persistence for dead letters and observations.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables the store writes to.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Record inserts one dead letter. Recording the same letter twice is a no-op.
func (s *Store) Record(ctx context.Context, letter model.DeadLetter) error {
	req := letter.Request
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (
			id, target_id, pool_id, sequence, block_number, final_attempts, reason, request, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		letter.ID.String(),
		int64(req.TargetID),
		req.PoolID.Hex(),
		int64(req.Sequence),
		int64(req.Block.Number),
		int16(letter.FinalAttempts),
		letter.Reason,
		req,
		letter.RecordedAt,
	)
	return err
}

// PutObservations upserts observations keyed by (pool, sequence).
func (s *Store) PutObservations(ctx context.Context, observations []model.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, obs := range observations {
		batch.Queue(`
			INSERT INTO observations (pool_id, sequence, block_number, tx_hash, log_index, points)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (pool_id, sequence)
			DO UPDATE SET
				block_number = EXCLUDED.block_number,
				tx_hash = EXCLUDED.tx_hash,
				log_index = EXCLUDED.log_index,
				points = EXCLUDED.points
		`,
			obs.PoolID.Hex(),
			int64(obs.Sequence),
			int64(obs.BlockNumber),
			obs.TxHash.Hex(),
			int32(obs.LogIndex),
			obs.Points,
		)
	}
	return s.sendBatch(ctx, batch)
}

// PutDecodeErrors stores decode failures, ignoring repeats of the same log.
func (s *Store) PutDecodeErrors(ctx context.Context, failures []model.DecodeError) error {
	if len(failures) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range failures {
		batch.Queue(`
			INSERT INTO decode_errors (block_number, tx_hash, log_index, address, topic0, error)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			int64(f.BlockNumber),
			f.TxHash,
			int32(f.LogIndex),
			f.Address,
			f.Topic0,
			f.Error,
		)
	}
	return s.sendBatch(ctx, batch)
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
