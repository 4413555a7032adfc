package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrConcurrentUpdate = errors.New("account modified concurrently")
)

// MySQL server error numbers for constraint violations.
const (
	mysqlDuplicateEntry      = 1062
	mysqlRowIsReferenced     = 1451
	mysqlNoReferencedRow     = 1452
	mysqlNoReferencedRowOld  = 1216
	mysqlRowIsReferencedOld  = 1217
	mysqlCheckConstraintFail = 3819
	mysqlLockDeadlock        = 1213
)

// IsIntegrityViolation reports whether err is a uniqueness, foreign key or
// check constraint failure raised by the database.
func IsIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlRowIsReferenced, mysqlNoReferencedRow,
			mysqlNoReferencedRowOld, mysqlRowIsReferencedOld, mysqlCheckConstraintFail:
			return true
		}
		return false
	}
	// sqlite reports constraint failures only through the message text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "foreign key constraint")
}

// IsDeadlock reports whether the database chose this transaction as a
// deadlock victim. The server has already rolled it back.
func IsDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlLockDeadlock
}
