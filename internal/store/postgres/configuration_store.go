package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ConfigurationStore keeps the single current Configuration row.
type ConfigurationStore struct {
	pool *pgxpool.Pool
}

// NewConfigurationStore creates a ConfigurationStore backed by pool.
func NewConfigurationStore(pool *pgxpool.Pool) *ConfigurationStore {
	return &ConfigurationStore{pool: pool}
}

// Load returns the stored Configuration or domain.ErrNotFound.
func (s *ConfigurationStore) Load(ctx context.Context) (domain.Configuration, error) {
	var (
		cfg                 domain.Configuration
		src, dst, flash, op string
		min0, min1          pgtype.Numeric
	)
	err := s.pool.QueryRow(ctx, `
		SELECT source_venue, destination_venue, flash_venue, reverse, min_profit0, min_profit1, operator, updated_at
		FROM arb_configuration WHERE id = 1`,
	).Scan(&src, &dst, &flash, &cfg.Reverse, &min0, &min1, &op, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Configuration{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("postgres: load configuration: %w", err)
	}

	cfg.SourceVenue = domain.VenueID(src)
	cfg.DestinationVenue = domain.VenueID(dst)
	cfg.FlashVenue = domain.VenueID(flash)
	cfg.Operator = common.HexToAddress(op)
	if cfg.MinProfit0, err = u256FromNumeric(min0); err != nil {
		return domain.Configuration{}, fmt.Errorf("postgres: configuration min_profit0: %w", err)
	}
	if cfg.MinProfit1, err = u256FromNumeric(min1); err != nil {
		return domain.Configuration{}, fmt.Errorf("postgres: configuration min_profit1: %w", err)
	}
	return cfg, nil
}

// Save overwrites the stored Configuration.
func (s *ConfigurationStore) Save(ctx context.Context, cfg domain.Configuration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO arb_configuration (id, source_venue, destination_venue, flash_venue, reverse, min_profit0, min_profit1, operator, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			source_venue      = EXCLUDED.source_venue,
			destination_venue = EXCLUDED.destination_venue,
			flash_venue       = EXCLUDED.flash_venue,
			reverse           = EXCLUDED.reverse,
			min_profit0       = EXCLUDED.min_profit0,
			min_profit1       = EXCLUDED.min_profit1,
			operator          = EXCLUDED.operator,
			updated_at        = EXCLUDED.updated_at`,
		string(cfg.SourceVenue), string(cfg.DestinationVenue), string(cfg.FlashVenue), cfg.Reverse,
		numericFromU256(orZero(cfg.MinProfit0)), numericFromU256(orZero(cfg.MinProfit1)),
		cfg.Operator.Hex(), cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save configuration: %w", err)
	}
	return nil
}

var _ domain.ConfigurationStore = (*ConfigurationStore)(nil)
