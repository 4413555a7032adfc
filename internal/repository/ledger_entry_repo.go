package repository

import (
	"context"
	"time"

	"bankledger/internal/model"

	"gorm.io/gorm"
)

const defaultPageSize = 50

type LedgerEntryRepository struct {
	db       *gorm.DB
	pageSize int
}

func NewLedgerEntryRepository(db *gorm.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db, pageSize: defaultPageSize}
}

// Append inserts a new entry. It fails with a foreign key violation when
// entry.AccountID does not reference an existing account.
func (r *LedgerEntryRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Omit("Account").Create(entry).Error
}

// ListByAccount returns the complete history of an account, oldest first.
func (r *LedgerEntryRepository) ListByAccount(ctx context.Context, tx *gorm.DB, accountID int64) ([]model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entries []model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("recorded_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// LatestRecordedAt returns the recorded_at of the account's newest entry, or
// the zero time when it has none.
func (r *LedgerEntryRepository) LatestRecordedAt(ctx context.Context, tx *gorm.DB, accountID int64) (time.Time, error) {
	if tx == nil {
		tx = r.db
	}
	var latest []model.LedgerEntry
	err := tx.WithContext(ctx).
		Select("recorded_at").
		Where("account_id = ?", accountID).
		Order("recorded_at DESC, id DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil || len(latest) == 0 {
		return time.Time{}, err
	}
	return latest[0].RecordedAt, nil
}

// ListRecent returns a cursor over the owner's entries, newest first, that
// stops after limit entries. Nothing is read until the first Next call, and
// calling ListRecent again starts a fresh walk.
func (r *LedgerEntryRepository) ListRecent(ctx context.Context, ownerID int64, limit int) *EntryCursor {
	pageSize := r.pageSize
	if limit < pageSize {
		pageSize = limit
	}
	return &EntryCursor{
		ctx:      ctx,
		db:       r.db,
		ownerID:  ownerID,
		limit:    limit,
		pageSize: pageSize,
	}
}

// EntryCursor pages through ledger entries with a (recorded_at, id) keyset.
type EntryCursor struct {
	ctx      context.Context
	db       *gorm.DB
	ownerID  int64
	limit    int
	pageSize int

	page    []model.LedgerEntry
	pos     int
	yielded int
	started bool
	done    bool
	err     error

	lastRecordedAt time.Time
	lastID         int64
}

func (c *EntryCursor) Next() bool {
	if c.err != nil || c.yielded >= c.limit {
		return false
	}
	if c.pos+1 < len(c.page) {
		c.pos++
		c.yielded++
		return true
	}
	if c.done {
		return false
	}
	if err := c.fetch(); err != nil {
		c.err = err
		return false
	}
	if len(c.page) == 0 {
		return false
	}
	c.pos = 0
	c.yielded++
	return true
}

func (c *EntryCursor) Entry() model.LedgerEntry {
	return c.page[c.pos]
}

func (c *EntryCursor) Err() error {
	return c.err
}

// All drains the cursor.
func (c *EntryCursor) All() ([]model.LedgerEntry, error) {
	var out []model.LedgerEntry
	for c.Next() {
		out = append(out, c.Entry())
	}
	return out, c.Err()
}

func (c *EntryCursor) fetch() error {
	n := c.pageSize
	if remaining := c.limit - c.yielded; remaining < n {
		n = remaining
	}

	accountIDs := c.db.Model(&model.Account{}).Select("id").Where("owner_id = ?", c.ownerID)
	q := c.db.WithContext(c.ctx).Where("account_id IN (?)", accountIDs)
	if c.started {
		q = q.Where("(recorded_at < ? OR (recorded_at = ? AND id < ?))", c.lastRecordedAt, c.lastRecordedAt, c.lastID)
	}

	var page []model.LedgerEntry
	if err := q.Order("recorded_at DESC, id DESC").Limit(n).Find(&page).Error; err != nil {
		return err
	}

	c.started = true
	c.page = page
	if len(page) < n {
		c.done = true
	}
	if len(page) > 0 {
		last := page[len(page)-1]
		c.lastRecordedAt = last.RecordedAt
		c.lastID = last.ID
	}
	return nil
}
