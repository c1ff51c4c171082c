package callcontext

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads and writes call contexts in Postgres. Writes happen in
// the API process before the dial response is returned; reads happen in
// whichever process Exotel hands the media stream to.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// AutoMigrate creates the call_contexts table if missing.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&CallContext{})
}

// Ping checks the underlying database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Put stores a context, replacing any previous row for the same SID.
// Must complete before the dial endpoint responds, or the media session
// can win the race and come up with no context.
func (s *Store) Put(ctx context.Context, cc *CallContext) error {
	if cc.CallSID == "" {
		return fmt.Errorf("call_sid is required")
	}
	cc.IsActive = true

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_sid"}},
			UpdateAll: true,
		}).
		Create(cc).Error
	if err != nil {
		return fmt.Errorf("failed to store call context: %w", err)
	}

	return nil
}

// Get returns the active context for a SID. A missing or deactivated
// row returns (nil, nil); errors mean the store itself was unreachable.
// Callers treat both as "no context" but only the latter is alarming.
func (s *Store) Get(ctx context.Context, callSID string) (*CallContext, error) {
	var cc CallContext
	err := s.db.WithContext(ctx).
		Where("call_sid = ? AND is_active = ?", callSID, true).
		First(&cc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call context: %w", err)
	}
	return &cc, nil
}

// Deactivate marks a context consumed. Idempotent: deactivating an
// unknown or already-inactive SID succeeds, so every session exit path
// can call it unconditionally.
func (s *Store) Deactivate(ctx context.Context, callSID string) error {
	err := s.db.WithContext(ctx).
		Model(&CallContext{}).
		Where("call_sid = ?", callSID).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate call context: %w", err)
	}
	return nil
}
