package repository

import (
	"context"
	"errors"
	"time"

	"bankledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// Create inserts a new account. A second account for the same owner fails
// on the owner_id unique index.
func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	return r.conn(tx).WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByOwnerID(ctx context.Context, tx *gorm.DB, ownerID int64) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("owner_id = ?", ownerID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByOwnerIDForUpdate reads the account row with SELECT ... FOR UPDATE so
// the read-modify-write that follows is exclusive until tx ends.
func (r *AccountRepository) GetByOwnerIDForUpdate(ctx context.Context, tx *gorm.DB, ownerID int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ?", ownerID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetOrCreate returns the owner's account, inserting a zero-balance one
// with the given profile when absent. Concurrent first access converges on
// a single row: the losing insert is a no-op on the owner_id unique index.
func (r *AccountRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, ownerID int64, defaults model.Profile) (*model.Account, error) {
	account, err := r.GetByOwnerID(ctx, tx, ownerID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		OwnerID: ownerID,
		Profile: defaults,
	}
	err = r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error
	if err != nil {
		return nil, err
	}

	return r.GetByOwnerID(ctx, tx, ownerID)
}

// GetOrCreateForUpdate is the locking variant of GetOrCreate used inside a
// ledger transaction. A missing account is inserted before any locking read
// is issued: two FOR UPDATE reads of the same absent owner would take gap
// locks on MySQL and deadlock on the insert that follows.
func (r *AccountRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, ownerID int64, defaults model.Profile) (*model.Account, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.Account{}).Where("owner_id = ?", ownerID).Count(&n).Error
	if err != nil {
		return nil, err
	}

	if n == 0 {
		err = tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "owner_id"}},
				DoNothing: true,
			}).
			Create(&model.Account{OwnerID: ownerID, Profile: defaults}).Error
		if err != nil {
			return nil, err
		}
	}

	return r.GetByOwnerIDForUpdate(ctx, tx, ownerID)
}

// Save writes the full account state guarded by its version. When another
// writer got there first nothing is written and ErrConcurrentUpdate is
// returned; on success account.Version is advanced.
func (r *AccountRepository) Save(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	now := time.Now()
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"balance":    account.Balance,
			"full_name":  account.FullName,
			"age":        account.Age,
			"gender":     account.Gender,
			"email":      account.Email,
			"phone":      account.Phone,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	account.Version++
	account.UpdatedAt = now
	return nil
}
