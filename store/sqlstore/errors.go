package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// classify marks driver errors that indicate a lost connection, an overloaded
// server or lock contention as unavailable. Other errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return configsync.Unavailable(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return configsync.Unavailable(err)
		}
		switch pqErr.Code {
		case "40001", "40P01":
			return configsync.Unavailable(err)
		}
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, 1053, 1205, 1213:
			// too many connections, server shutdown, lock wait timeout, deadlock
			return configsync.Unavailable(err)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked {
			return configsync.Unavailable(err)
		}
		return err
	}

	return store.Classify(err)
}
