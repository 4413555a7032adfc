package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryKindDeposit  = "DEPOSIT"
	EntryKindWithdraw = "WITHDRAW"
)

// LedgerEntry is one committed balance movement.
//
// Rows are append-only: nothing in this repository updates or deletes them.
// Amount is always positive; direction comes from Kind. BalanceAfter is the
// account balance immediately after the entry was applied.
type LedgerEntry struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	AccountID    int64           `gorm:"not null;index:idx_entry_account_recorded,priority:1" json:"account_id"`
	Account      *Account        `gorm:"foreignKey:AccountID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"-"`
	Kind         string          `gorm:"type:varchar(10);not null" json:"kind"`
	Amount       decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"balance_after"`
	Memo         string          `gorm:"type:varchar(256);not null;default:''" json:"memo"`
	RecordedAt   time.Time       `gorm:"not null;index:idx_entry_account_recorded,priority:2" json:"recorded_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// Signed returns the movement with its direction applied.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Kind == EntryKindWithdraw {
		return e.Amount.Neg()
	}
	return e.Amount
}
