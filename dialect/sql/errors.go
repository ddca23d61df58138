package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDupEntry          = 1062
	mysqlNoReferencedRow   = 1216
	mysqlRowIsReferenced   = 1217
	mysqlNoReferencedRow2  = 1452
	mysqlRowIsReferenced2  = 1451
	mysqlConstraintFailure = 3819
)

// IsConstraintViolation reports whether err is a store-level uniqueness,
// foreign-key or check constraint failure raised by one of the supported
// drivers. SQLite (modernc/mattn) reports constraint failures through the
// error text only, so those are matched by message.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDupEntry, mysqlNoReferencedRow, mysqlRowIsReferenced,
			mysqlNoReferencedRow2, mysqlRowIsReferenced2, mysqlConstraintFailure:
			return true
		}
		return false
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		// SQLSTATE class 23 covers integrity constraint violations.
		return pe.Code.Class() == "23"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "CHECK constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// IsUniqueViolation reports whether err is specifically a uniqueness
// constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDupEntry
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
