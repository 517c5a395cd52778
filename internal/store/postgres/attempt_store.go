package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// AttemptStore implements domain.AttemptStore.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates an AttemptStore backed by pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Record inserts a. Attempts without a sized trade store no direction.
func (st *AttemptStore) Record(ctx context.Context, a domain.Attempt) error {
	dir := ""
	if a.SwapAmount != nil {
		dir = a.Direction.String()
	}
	_, err := st.pool.Exec(ctx, `
		INSERT INTO attempts (id, venue_a, venue_b, direction, swap_amount, status, reason, state_reached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, string(a.VenueA), string(a.VenueB), dir, numericFromU256(a.SwapAmount),
		string(a.Status), a.Reason, a.StateReached, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record attempt %s: %w", a.ID, err)
	}
	return nil
}

// ListRecent returns attempts newest first.
func (st *AttemptStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Attempt, error) {
	where, args := timeWindow("created_at", opts)
	query := `SELECT id, venue_a, venue_b, direction, swap_amount, status, reason, state_reached, created_at
		FROM attempts` + where + ` ORDER BY created_at DESC` + paginate(opts, &args)

	rows, err := st.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var (
			a              domain.Attempt
			venueA, venueB string
			dir, status    string
			amount         pgtype.Numeric
		)
		if err := rows.Scan(&a.ID, &venueA, &venueB, &dir, &amount, &status, &a.Reason, &a.StateReached, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan attempt: %w", err)
		}
		a.VenueA, a.VenueB = domain.VenueID(venueA), domain.VenueID(venueB)
		a.Status = domain.AttemptStatus(status)
		if dir != "" {
			if a.Direction, err = domain.ParseDirection(dir); err != nil {
				return nil, fmt.Errorf("postgres: attempt %s: %w", a.ID, err)
			}
		}
		if a.SwapAmount, err = u256FromNumeric(amount); err != nil {
			return nil, fmt.Errorf("postgres: attempt %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list attempts rows: %w", err)
	}
	return out, nil
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
