package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// syncProgressRow is the gorm model backing the sync-progress singleton
// (spec §3.4). A single row with id=1 is upserted in place.
type syncProgressRow struct {
	ID                 uint `gorm:"primaryKey"`
	LatestIndexedBlock int64
	LatestTxid         string
	UpdatedAt          time.Time
}

// blockSyncRunRow is the block_sync_runs audit table (SPEC_FULL.md §3
// supplement): one row per completed or halted block-walk pass.
type blockSyncRunRow struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	StartedAt      time.Time
	FinishedAt     time.Time
	FromBlock      int64
	ToBlock        int64
	RecordsIndexed int
	Errors         int
}

// peerProgressRow is the per-peer health state (SPEC_FULL.md §3
// supplement).
type peerProgressRow struct {
	PeerID              string `gorm:"primaryKey"`
	LastSeenSoul        string
	ConsecutiveFailures int
	LastError           string
	UpdatedAt           time.Time
}

// PostgresStore implements MetricsRepository via gorm, grounded on
// db/repository/postgres.go's responsibility split (this module uses gorm
// rather than that file's raw SQL, to exercise the teacher's otherwise
// unused gorm.io/gorm + gorm.io/driver/postgres dependency pair — see
// SPEC_FULL.md §2).
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&syncProgressRow{}, &blockSyncRunRow{}, &peerProgressRow{}); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetSyncProgress(ctx context.Context) (SyncProgress, error) {
	var row syncProgressRow
	err := s.db.WithContext(ctx).First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SyncProgress{}, nil
	}
	if err != nil {
		return SyncProgress{}, err
	}
	return SyncProgress{LatestIndexedBlock: row.LatestIndexedBlock, LatestTxid: row.LatestTxid, UpdatedAt: row.UpdatedAt}, nil
}

func (s *PostgresStore) SetSyncProgress(ctx context.Context, p SyncProgress) error {
	row := syncProgressRow{ID: 1, LatestIndexedBlock: p.LatestIndexedBlock, LatestTxid: p.LatestTxid, UpdatedAt: p.UpdatedAt}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *PostgresStore) RecordBlockSyncRun(ctx context.Context, run BlockSyncRun) error {
	row := blockSyncRunRow{
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
		FromBlock:      run.FromBlock,
		ToBlock:        run.ToBlock,
		RecordsIndexed: run.RecordsIndexed,
		Errors:         run.Errors,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *PostgresStore) GetPeerProgress(ctx context.Context, peerID string) (PeerProgress, bool, error) {
	var row peerProgressRow
	err := s.db.WithContext(ctx).First(&row, "peer_id = ?", peerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PeerProgress{}, false, nil
	}
	if err != nil {
		return PeerProgress{}, false, err
	}
	return PeerProgress{
		PeerID:              row.PeerID,
		LastSeenSoul:        row.LastSeenSoul,
		ConsecutiveFailures: row.ConsecutiveFailures,
		LastError:           row.LastError,
		UpdatedAt:           row.UpdatedAt,
	}, true, nil
}

func (s *PostgresStore) SetPeerProgress(ctx context.Context, p PeerProgress) error {
	row := peerProgressRow{
		PeerID:              p.PeerID,
		LastSeenSoul:        p.LastSeenSoul,
		ConsecutiveFailures: p.ConsecutiveFailures,
		LastError:           p.LastError,
		UpdatedAt:           p.UpdatedAt,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}
