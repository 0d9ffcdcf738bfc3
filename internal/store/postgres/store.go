package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldproof/fieldproof/internal/domain"
	"github.com/fieldproof/fieldproof/internal/ledger"
)

type Store struct {
	pool      *pgxpool.Pool
	events    *EventRepo
	audit     *LedgerStore
	proofs    *ProofRepo
	reviews   *ReviewRepo
	devices   *DeviceRepo
	reviewers *ReviewerRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: %w", err)
	}

	return &Store{
		pool:      pool,
		events:    NewEventRepo(pool),
		audit:     NewLedgerStore(pool),
		proofs:    NewProofRepo(pool),
		reviews:   NewReviewRepo(pool),
		devices:   NewDeviceRepo(pool),
		reviewers: NewReviewerRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Events() domain.EventRepository       { return s.events }
func (s *Store) Ledger() ledger.Store                 { return s.audit }
func (s *Store) Proofs() domain.ProofRepository       { return s.proofs }
func (s *Store) Reviews() domain.ReviewRepository     { return s.reviews }
func (s *Store) Devices() domain.DeviceRepository     { return s.devices }
func (s *Store) Reviewers() domain.ReviewerRepository { return s.reviewers }
