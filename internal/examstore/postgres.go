package examstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pkruczek/vetsono/pkg/types"
)

// Schema is the SQL DDL for the exams table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS exams (
    id                 TEXT PRIMARY KEY,
    transcript         TEXT NOT NULL DEFAULT '',
    transcript_quality JSONB,
    transcript_runs    JSONB NOT NULL DEFAULT '[]',
    facts              JSONB,
    facts_meta         JSONB,
    impression         JSONB,
    impression_meta    JSONB,
    analysis           JSONB,
    analysis_meta      JSONB,
    report             TEXT NOT NULL DEFAULT '',
    report_meta        JSONB,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_exams_created ON exams(created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// stage outputs are serialised as JSONB sibling columns, one pair per stage.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the exams
// table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("examstore: migrate: %w", err)
	}
	return nil
}

// Create inserts a new, empty exam record. Returns an error if a record with
// the same ID already exists.
func (s *PostgresStore) Create(ctx context.Context, id string) (*types.ExamRecord, error) {
	if id == "" {
		return nil, errors.New("examstore: create: empty id")
	}
	rec := &types.ExamRecord{ID: id}

	const query = `
		INSERT INTO exams (id) VALUES ($1)
		RETURNING created_at, updated_at`
	err := s.db.QueryRow(ctx, query, id).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("examstore: exam with id %q already exists", id)
		}
		return nil, fmt.Errorf("examstore: create: %w", err)
	}
	return rec, nil
}

// Get retrieves an exam record by ID. Returns an error wrapping
// [types.ErrNotFound] when the record does not exist.
func (s *PostgresStore) Get(ctx context.Context, id string) (*types.ExamRecord, error) {
	const query = `
		SELECT id, transcript, transcript_quality, transcript_runs,
		       facts, facts_meta, impression, impression_meta,
		       analysis, analysis_meta, report, report_meta,
		       created_at, updated_at
		FROM exams
		WHERE id = $1`

	rec := &types.ExamRecord{}
	var qualityJSON, runsJSON []byte
	var factsJSON, factsMetaJSON, impJSON, impMetaJSON []byte
	var anaJSON, anaMetaJSON, repMetaJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Transcript, &qualityJSON, &runsJSON,
		&factsJSON, &factsMetaJSON, &impJSON, &impMetaJSON,
		&anaJSON, &anaMetaJSON, &rec.Report, &repMetaJSON,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("examstore: exam %q: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("examstore: get %q: %w", id, err)
	}

	if err := unmarshalInto(&rec.TranscriptQuality, qualityJSON, "transcript_quality"); err != nil {
		return nil, err
	}
	if len(runsJSON) > 0 {
		if err := json.Unmarshal(runsJSON, &rec.TranscriptRuns); err != nil {
			return nil, fmt.Errorf("examstore: unmarshal transcript_runs: %w", err)
		}
	}
	if err := unmarshalInto(&rec.Facts, factsJSON, "facts"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(&rec.FactsMeta, factsMetaJSON, "facts_meta"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(&rec.Impression, impJSON, "impression"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(&rec.ImpressionMeta, impMetaJSON, "impression_meta"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(&rec.Analysis, anaJSON, "analysis"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(&rec.AnalysisMeta, anaMetaJSON, "analysis_meta"); err != nil {
		return nil, err
	}
	if err := unmarshalInto(&rec.ReportMeta, repMetaJSON, "report_meta"); err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveTranscript stores the adopted transcript, its quality assessment and
// the full run history in a single UPDATE.
func (s *PostgresStore) SaveTranscript(ctx context.Context, id, transcript string, quality *types.TranscriptQuality, runs []types.TranscriptionRun) error {
	qualityJSON, err := json.Marshal(quality)
	if err != nil {
		return fmt.Errorf("examstore: marshal transcript_quality: %w", err)
	}
	if runs == nil {
		runs = []types.TranscriptionRun{}
	}
	runsJSON, err := json.Marshal(runs)
	if err != nil {
		return fmt.Errorf("examstore: marshal transcript_runs: %w", err)
	}

	const query = `
		UPDATE exams
		SET transcript = $2, transcript_quality = $3, transcript_runs = $4,
		    updated_at = now()
		WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, transcript, qualityJSON, runsJSON)
	if err != nil {
		return fmt.Errorf("examstore: save transcript %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("examstore: exam %q: %w", id, types.ErrNotFound)
	}
	return nil
}

// stageColumns maps each stage to its payload column and meta sibling. The
// whitelist keeps SaveStage's dynamic SQL closed over known identifiers.
var stageColumns = map[Stage][2]string{
	StageFacts:      {"facts", "facts_meta"},
	StageImpression: {"impression", "impression_meta"},
	StageAnalysis:   {"analysis", "analysis_meta"},
	StageReport:     {"report", "report_meta"},
}

// SaveStage stores one stage's payload and meta sibling in a single UPDATE
// touching exactly that column pair.
func (s *PostgresStore) SaveStage(ctx context.Context, id string, stage Stage, payload any, meta *types.StageMeta) error {
	cols, ok := stageColumns[stage]
	if !ok {
		return fmt.Errorf("examstore: unknown stage %q", stage)
	}

	var value any
	if stage == StageReport {
		text, ok := payload.(string)
		if !ok {
			return fmt.Errorf("examstore: report payload must be a string, got %T", payload)
		}
		value = text
	} else {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("examstore: marshal %s: %w", stage, err)
		}
		value = data
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("examstore: marshal %s meta: %w", stage, err)
	}

	query := fmt.Sprintf(
		`UPDATE exams SET %s = $2, %s = $3, updated_at = now() WHERE id = $1`,
		cols[0], cols[1],
	)
	tag, err := s.db.Exec(ctx, query, id, value, metaJSON)
	if err != nil {
		return fmt.Errorf("examstore: save %s %q: %w", stage, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("examstore: exam %q: %w", id, types.ErrNotFound)
	}
	return nil
}

// List returns the IDs of all exam records, oldest first.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM exams ORDER BY created_at`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("examstore: list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("examstore: list scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("examstore: list: %w", err)
	}
	return ids, nil
}

// unmarshalInto decodes a nullable JSONB column into *dst, leaving *dst nil
// when the column is NULL.
func unmarshalInto[T any](dst **T, data []byte, column string) error {
	if len(data) == 0 {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("examstore: unmarshal %s: %w", column, err)
	}
	*dst = v
	return nil
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
