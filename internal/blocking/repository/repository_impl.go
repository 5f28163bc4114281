package repository

import (
	"context"
	"errors"
	"time"

	blockingdomain "github.com/smallbiznis/quotaguard/internal/blocking/domain"
	pkgdb "github.com/smallbiznis/quotaguard/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() blockingdomain.Repository {
	return &repo{}
}

// EnsureExists inserts state unless a record for the identity already
// exists, so the row can be locked before the first transition.
func (r *repo) EnsureExists(ctx context.Context, db *gorm.DB, state *blockingdomain.State) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "identity_key"}}, DoNothing: true}).
		Create(state).Error
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, identity string) (*blockingdomain.State, error) {
	query := db.WithContext(ctx)
	if pkgdb.SupportsRowLocking(db) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return first(query.Where("identity_key = ?", identity))
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, identity string) (*blockingdomain.State, error) {
	return first(db.WithContext(ctx).Where("identity_key = ?", identity))
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, state *blockingdomain.State) error {
	return db.WithContext(ctx).Save(state).Error
}

func (r *repo) SetEnforcementPending(ctx context.Context, db *gorm.DB, identity string, pending bool) error {
	return db.WithContext(ctx).Exec(
		`UPDATE blocking_states SET enforcement_pending = ? WHERE identity_key = ?`,
		pending,
		identity,
	).Error
}

func (r *repo) ClearEnforcementPending(ctx context.Context, db *gorm.DB, identity string, version int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE blocking_states SET enforcement_pending = ? WHERE identity_key = ? AND version = ? AND enforcement_pending = ?`,
		false,
		identity,
		version,
		true,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, now time.Time, afterIdentity string, limit int) ([]blockingdomain.State, error) {
	var states []blockingdomain.State
	err := db.WithContext(ctx).
		Where("status = ? AND blocked_until IS NOT NULL AND blocked_until <= ? AND identity_key > ?",
			blockingdomain.StatusBlocked, now.UTC(), afterIdentity).
		Order("identity_key ASC").
		Limit(limit).
		Find(&states).Error
	return states, err
}

func (r *repo) ListEnforcementPending(ctx context.Context, db *gorm.DB, afterIdentity string, limit int) ([]blockingdomain.State, error) {
	var states []blockingdomain.State
	err := db.WithContext(ctx).
		Where("enforcement_pending = ? AND identity_key > ?", true, afterIdentity).
		Order("identity_key ASC").
		Limit(limit).
		Find(&states).Error
	return states, err
}

func first(query *gorm.DB) (*blockingdomain.State, error) {
	var state blockingdomain.State
	if err := query.Take(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}
