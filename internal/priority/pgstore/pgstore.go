// Package pgstore provides a PostgreSQL implementation of priority.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

var tracer = otel.Tracer("github.com/linnemanlabs/surfacer/internal/priority/pgstore")

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists priority items in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ priority.Store = (*Store)(nil)

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, q: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const itemColumns = `id, user_id, source_type, source_id, title, description, category, deadline,
	created_at, updated_at, scores_changed_at, surfaced_at, responded_at, submerged_at, eliminated_at,
	urgency, importance, effort, context_relevance, dependency, personality_fit, total,
	quadrant, status, dedup_group, elimination_reason,
	associations, deal_amount, estimate_minutes, blocked_by, blocks, cancelled`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Get retrieves an item by ID.
//
//nolint:dupl // similar structure to GetBySource is intentional
func (s *Store) Get(ctx context.Context, id string) (*priority.Item, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + itemColumns + ` FROM priority_items WHERE id = $1`
	it, err := scanItemRow(s.q.QueryRow(ctx, query, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// GetBySource retrieves an item by its natural key.
//
//nolint:dupl // similar structure to Get is intentional
func (s *Store) GetBySource(ctx context.Context, typ priority.SourceType, sourceID string) (*priority.Item, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetBySource", "SELECT")
	defer span.End()

	query := `SELECT ` + itemColumns + ` FROM priority_items WHERE source_type = $1 AND source_id = $2`
	it, err := scanItemRow(s.q.QueryRow(ctx, query, string(typ), sourceID))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// Put inserts or updates an item (upsert on id).
func (s *Store) Put(ctx context.Context, it *priority.Item) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()
	span.SetAttributes(attribute.String("surfacer.item.id", it.ID))

	assoc, err := json.Marshal(it.Associations)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("marshal associations: %w", err)
	}

	query := `INSERT INTO priority_items (` + itemColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
		$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)
	ON CONFLICT (id) DO UPDATE SET
		user_id            = EXCLUDED.user_id,
		source_type        = EXCLUDED.source_type,
		source_id          = EXCLUDED.source_id,
		title              = EXCLUDED.title,
		description        = EXCLUDED.description,
		category           = EXCLUDED.category,
		deadline           = EXCLUDED.deadline,
		updated_at         = EXCLUDED.updated_at,
		scores_changed_at  = EXCLUDED.scores_changed_at,
		surfaced_at        = EXCLUDED.surfaced_at,
		responded_at       = EXCLUDED.responded_at,
		submerged_at       = EXCLUDED.submerged_at,
		eliminated_at      = EXCLUDED.eliminated_at,
		urgency            = EXCLUDED.urgency,
		importance         = EXCLUDED.importance,
		effort             = EXCLUDED.effort,
		context_relevance  = EXCLUDED.context_relevance,
		dependency         = EXCLUDED.dependency,
		personality_fit    = EXCLUDED.personality_fit,
		total              = EXCLUDED.total,
		quadrant           = EXCLUDED.quadrant,
		status             = EXCLUDED.status,
		dedup_group        = EXCLUDED.dedup_group,
		elimination_reason = EXCLUDED.elimination_reason,
		associations       = EXCLUDED.associations,
		deal_amount        = EXCLUDED.deal_amount,
		estimate_minutes   = EXCLUDED.estimate_minutes,
		blocked_by         = EXCLUDED.blocked_by,
		blocks             = EXCLUDED.blocks,
		cancelled          = EXCLUDED.cancelled`

	sc := it.Scores
	_, err = s.q.Exec(ctx, query,
		it.ID, it.UserID, string(it.SourceType), it.SourceID, it.Title, it.Description, it.Category, it.Deadline,
		it.CreatedAt, it.UpdatedAt, it.ScoresChangedAt, it.SurfacedAt, it.RespondedAt, it.SubmergedAt, it.EliminatedAt,
		sc.Urgency, sc.Importance, sc.Effort, sc.ContextRelevance, sc.Dependency, sc.PersonalityFit, sc.Total,
		string(it.Quadrant), string(it.Status), it.DedupGroup, it.EliminationReason,
		assoc, it.DealAmount, it.EstimateMinutes, it.BlockedBy, it.Blocks, it.Cancelled,
	)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// List returns the matching items ordered by creation time, then id.
func (s *Store) List(ctx context.Context, f priority.Filter) ([]*priority.Item, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	b := psql.Select(itemColumns).From("priority_items").OrderBy("created_at", "id")
	if f.UserID != "" {
		b = b.Where(sq.Eq{"user_id": f.UserID})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		b = b.Where(sq.Eq{"status": statuses})
	}
	if f.Quadrant != "" {
		b = b.Where(sq.Eq{"quadrant": string(f.Quadrant)})
	}
	if f.Canonical {
		b = b.Where(sq.Eq{"dedup_group": ""})
	}

	query, args, err := b.ToSql()
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []*priority.Item
	for rows.Next() {
		it, err := scanItemRow(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		fail(span, err)
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}

// Users returns every user that owns at least one item, sorted.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	ctx, span := startSpan(ctx, "pgstore.Users", "SELECT")
	defer span.End()

	rows, err := s.q.Query(ctx, `SELECT DISTINCT user_id FROM priority_items ORDER BY user_id`)
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("query users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		fail(span, err)
		return nil, fmt.Errorf("collect users: %w", err)
	}
	return users, nil
}

// WithUserLock runs fn in a transaction holding a transaction-scoped
// advisory lock on the user. An error from fn rolls everything back.
// Nested calls reuse the enclosing transaction.
func (s *Store) WithUserLock(ctx context.Context, userID string, fn func(ctx context.Context, st priority.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	ctx, span := startSpan(ctx, "pgstore.WithUserLock", "TRANSACTION")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		fail(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		fail(span, err)
		return fmt.Errorf("advisory lock: %w", err)
	}

	if err := fn(ctx, &Store{pool: s.pool, q: tx, inTx: true}); err != nil {
		fail(span, err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		fail(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// scanItemRow scans a single row into an item. Returns (nil, nil) when no
// row is found.
func scanItemRow(row pgx.Row) (*priority.Item, error) {
	var (
		it         priority.Item
		sourceType string
		quadrant   string
		status     string
		assoc      []byte
		deadline   *time.Time
	)

	err := row.Scan(
		&it.ID, &it.UserID, &sourceType, &it.SourceID, &it.Title, &it.Description, &it.Category, &deadline,
		&it.CreatedAt, &it.UpdatedAt, &it.ScoresChangedAt, &it.SurfacedAt, &it.RespondedAt, &it.SubmergedAt, &it.EliminatedAt,
		&it.Scores.Urgency, &it.Scores.Importance, &it.Scores.Effort, &it.Scores.ContextRelevance,
		&it.Scores.Dependency, &it.Scores.PersonalityFit, &it.Scores.Total,
		&quadrant, &status, &it.DedupGroup, &it.EliminationReason,
		&assoc, &it.DealAmount, &it.EstimateMinutes, &it.BlockedBy, &it.Blocks, &it.Cancelled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	it.SourceType = priority.SourceType(sourceType)
	it.Quadrant = priority.Quadrant(quadrant)
	it.Status = priority.Status(status)
	it.Deadline = deadline

	if len(assoc) > 0 {
		if err := json.Unmarshal(assoc, &it.Associations); err != nil {
			return nil, fmt.Errorf("unmarshal associations: %w", err)
		}
	}
	return &it, nil
}
