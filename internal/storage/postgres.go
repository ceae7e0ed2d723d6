package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	problem_statement TEXT NOT NULL DEFAULT '',
	theory            TEXT NOT NULL DEFAULT '',
	starter_code      TEXT NOT NULL DEFAULT '',
	test_cases        JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS submissions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	experiment_id TEXT NOT NULL REFERENCES experiments(id),
	code          TEXT NOT NULL,
	verdict       TEXT NOT NULL CHECK (verdict IN ('PASS', 'FAIL', 'ERROR')),
	score         INTEGER NOT NULL,
	max_score     INTEGER NOT NULL,
	summary       TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS submissions_user_idx ON submissions (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS submissions_experiment_idx ON submissions (experiment_id, created_at DESC);
`

// DB wraps a PostgreSQL connection pool holding experiments and the
// submission ledger.
type DB struct {
	pool *pgxpool.Pool
}

type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string, opts PoolOptions) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MinConns = 2
	if opts.MinConns > 0 {
		config.MinConns = min(opts.MinConns, config.MaxConns)
	}
	config.MaxConnLifetime = 5 * time.Minute
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

func (db *DB) ListExperiments(ctx context.Context) ([]ExperimentSummary, error) {
	query := `
		SELECT id, title, test_cases, created_at
		FROM experiments
		ORDER BY created_at, id`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying experiments: %w", err)
	}
	defer rows.Close()

	results := []ExperimentSummary{}
	for rows.Next() {
		var (
			exp Experiment
			raw []byte
		)
		if err := rows.Scan(&exp.ID, &exp.Title, &raw, &exp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning experiment row: %w", err)
		}
		if err := json.Unmarshal(raw, &exp.TestCases); err != nil {
			return nil, fmt.Errorf("decoding test cases of %s: %w", exp.ID, err)
		}
		results = append(results, exp.Summary())
	}
	return results, rows.Err()
}

func (db *DB) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	query := `
		SELECT id, title, problem_statement, theory, starter_code, test_cases, created_at
		FROM experiments WHERE id = $1`

	var (
		exp Experiment
		raw []byte
	)
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&exp.ID, &exp.Title, &exp.ProblemStatement, &exp.Theory,
		&exp.StarterCode, &raw, &exp.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying experiment %s: %w", id, err)
	}
	if err := json.Unmarshal(raw, &exp.TestCases); err != nil {
		return nil, fmt.Errorf("decoding test cases of %s: %w", id, err)
	}
	return &exp, nil
}

func (db *DB) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(exp.TestCases)
	if err != nil {
		return fmt.Errorf("encoding test cases: %w", err)
	}

	query := `
		INSERT INTO experiments (id, title, problem_statement, theory, starter_code, test_cases, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = db.pool.Exec(ctx, query,
		exp.ID, exp.Title, exp.ProblemStatement, exp.Theory,
		exp.StarterCode, raw, exp.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("experiment %s: %w", exp.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting experiment: %w", err)
	}
	return nil
}

// AppendSubmission inserts one ledger entry. It is never retried here; a
// failure is reported to the caller once.
func (db *DB) AppendSubmission(ctx context.Context, sub *Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO submissions (id, user_id, experiment_id, code, verdict,
			score, max_score, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.ExperimentID, sub.Code, string(sub.Verdict),
		sub.Score, sub.MaxScore, sub.Summary, sub.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (db *DB) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	query := `
		SELECT id, user_id, experiment_id, code, verdict, score, max_score, summary, created_at
		FROM submissions WHERE id = $1`

	var sub Submission
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.UserID, &sub.ExperimentID, &sub.Code, &sub.Verdict,
		&sub.Score, &sub.MaxScore, &sub.Summary, &sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission %s: %w", id, err)
	}
	return &sub, nil
}

// ListSubmissions queries the ledger newest first. Code is omitted from list
// rows.
func (db *DB) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error) {
	query := `
		SELECT id, user_id, experiment_id, verdict, score, max_score, summary, created_at
		FROM submissions
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR experiment_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.pool.Query(ctx, query,
		filter.UserID, filter.ExperimentID, filter.limit(), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	results := []Submission{}
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.ExperimentID, &sub.Verdict,
			&sub.Score, &sub.MaxScore, &sub.Summary, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		results = append(results, sub)
	}

	return results, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
