// Package repository holds the MySQL implementations of the stores the
// service layer depends on.  The sentinel values below are the only errors
// callers need to tell apart; everything else is an infrastructure failure.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique key.  Workflow
// engines treat it as "another writer got there first" and re-read.
var ErrDuplicate = errors.New("duplicate")

// ErrConflict is returned when a write cannot proceed because of existing
// state, such as a third occupant for an apartment.
var ErrConflict = errors.New("conflict")

// MySQL server error numbers the repositories translate.
const (
	mysqlDuplicateEntry  = 1062 // ER_DUP_ENTRY
	mysqlNoReferencedRow = 1452 // ER_NO_REFERENCED_ROW_2
)

// isDuplicate reports whether err is a MySQL unique-key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// isMissingReference reports whether err is a foreign-key violation on
// insert, i.e. the referenced user, role or permission does not exist.
func isMissingReference(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlNoReferencedRow
}

// notFound maps sql.ErrNoRows to ErrNotFound and leaves other errors alone.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
