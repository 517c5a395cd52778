package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const settlementColumns = `id, venue_a, venue_b, flash_venue, asset0, asset1, direction,
	swap_amount, balance_change0, balance_change1, premium, leg1_out, leg2_out, settled_at`

// SettlementStore implements domain.SettlementStore.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create inserts s. A repeated id fails with domain.ErrAlreadyExists.
func (st *SettlementStore) Create(ctx context.Context, s domain.Settlement) error {
	_, err := st.pool.Exec(ctx, `INSERT INTO settlements (`+settlementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, string(s.VenueA), string(s.VenueB), string(s.FlashVenue),
		s.Asset0.Hex(), s.Asset1.Hex(), s.Direction.String(),
		numericFromU256(s.SwapAmount),
		numericFromBig(s.BalanceChange0),
		numericFromBig(s.BalanceChange1),
		numericFromU256(s.Premium),
		numericFromU256(s.Leg1.AmountOut),
		numericFromU256(s.Leg2.AmountOut),
		s.SettledAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: settlement %s: %w", s.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert settlement %s: %w", s.ID, err)
	}
	return nil
}

// GetByID returns one settlement or domain.ErrNotFound.
func (st *SettlementStore) GetByID(ctx context.Context, id string) (domain.Settlement, error) {
	row := st.pool.QueryRow(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id)
	s, err := scanSettlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Settlement{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("postgres: get settlement %s: %w", id, err)
	}
	return s, nil
}

// ListRecent returns settlements newest first.
func (st *SettlementStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	where, args := timeWindow("settled_at", opts)
	query := `SELECT ` + settlementColumns + ` FROM settlements` + where +
		` ORDER BY settled_at DESC` + paginate(opts, &args)
	return st.query(ctx, query, args...)
}

// ListBefore returns every settlement older than before, oldest first.
func (st *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error) {
	return st.query(ctx, `SELECT `+settlementColumns+` FROM settlements
		WHERE settled_at < $1 ORDER BY settled_at ASC`, before)
}

// DeleteBefore removes settlements older than before. Called after they
// have been archived.
func (st *SettlementStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := st.pool.Exec(ctx, `DELETE FROM settlements WHERE settled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settlements: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (st *SettlementStore) query(ctx context.Context, query string, args ...any) ([]domain.Settlement, error) {
	rows, err := st.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (domain.Settlement, error) {
	var (
		s                            domain.Settlement
		venueA, venueB, flash        string
		asset0, asset1, dir          string
		swap, bc0, bc1, prem, o1, o2 pgtype.Numeric
	)
	if err := row.Scan(&s.ID, &venueA, &venueB, &flash, &asset0, &asset1, &dir,
		&swap, &bc0, &bc1, &prem, &o1, &o2, &s.SettledAt); err != nil {
		return domain.Settlement{}, err
	}

	var err error
	if s.Direction, err = domain.ParseDirection(dir); err != nil {
		return domain.Settlement{}, err
	}
	s.VenueA, s.VenueB, s.FlashVenue = domain.VenueID(venueA), domain.VenueID(venueB), domain.VenueID(flash)
	s.Asset0, s.Asset1 = common.HexToAddress(asset0), common.HexToAddress(asset1)
	if s.SwapAmount, err = u256FromNumeric(swap); err != nil {
		return domain.Settlement{}, err
	}
	if s.BalanceChange0, err = bigFromNumeric(bc0); err != nil {
		return domain.Settlement{}, err
	}
	if s.BalanceChange1, err = bigFromNumeric(bc1); err != nil {
		return domain.Settlement{}, err
	}
	if s.Premium, err = u256FromNumeric(prem); err != nil {
		return domain.Settlement{}, err
	}
	s.Leg1 = domain.TradeQuote{Venue: s.VenueA, Direction: s.Direction, AmountIn: s.SwapAmount}
	if s.Leg1.AmountOut, err = u256FromNumeric(o1); err != nil {
		return domain.Settlement{}, err
	}
	s.Leg2 = domain.TradeQuote{Venue: s.VenueB, AmountIn: s.Leg1.AmountOut}
	if s.Leg2.AmountOut, err = u256FromNumeric(o2); err != nil {
		return domain.Settlement{}, err
	}
	s.SettledAt = s.SettledAt.UTC()
	return s, nil
}

// timeWindow renders the optional Since/Until filter on column.
func timeWindow(column string, opts domain.ListOpts) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if opts.Since != nil {
		args = append(args, *opts.Since)
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		clauses = append(clauses, fmt.Sprintf("%s <= $%d", column, len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

// paginate appends LIMIT/OFFSET placeholders and their values to args.
func paginate(opts domain.ListOpts, args *[]any) string {
	out := ""
	if opts.Limit > 0 {
		*args = append(*args, opts.Limit)
		out += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if opts.Offset > 0 {
		*args = append(*args, opts.Offset)
		out += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return out
}

var _ domain.SettlementStore = (*SettlementStore)(nil)
