package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

// Profile is the descriptive part of an Account. It plays no role in the
// balance invariants.
type Profile struct {
	FullName string `gorm:"type:varchar(100);not null;default:''" json:"full_name"`
	Age      int    `gorm:"not null;default:0" json:"age"`
	Gender   string `gorm:"type:varchar(10);not null;default:''" json:"gender"`
	Email    string `gorm:"type:varchar(254);not null;default:''" json:"email"`
	Phone    string `gorm:"type:varchar(15);not null;default:''" json:"phone"`
}

// DefaultProfile is used when an account is provisioned lazily for a user
// that never filled in the signup profile.
func DefaultProfile(username, email string) Profile {
	return Profile{
		FullName: username,
		Age:      25,
		Gender:   GenderMale,
		Email:    email,
	}
}

func ValidGender(g string) bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// Account is the per-owner balance record. Exactly one row per owner.
type Account struct {
	ID      int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID int64           `gorm:"uniqueIndex;not null" json:"owner_id"`
	Balance decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"balance"`
	Version int             `gorm:"not null;default:0" json:"-"` // optimistic lock version

	Profile `gorm:"embedded"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
