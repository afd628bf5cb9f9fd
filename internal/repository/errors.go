package repository

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyHandled = errors.New("event already handled")
	ErrTxRequired     = errors.New("transaction required")
)

const mysqlDuplicateEntry = 1062

// isDuplicateKey reports a unique/primary key violation on MySQL or SQLite.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
