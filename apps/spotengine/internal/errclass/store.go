package errclass

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
)

// retryableStates lists SQLSTATE codes that describe transient conditions.
var retryableStates = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"57014": true, // query_canceled
}

func classifyStore(err error) *Error {
	if errors.Is(err, sql.ErrNoRows) {
		return wrap(SourceStore, KindNotFound, false, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return wrap(SourceStore, KindNetworkTransient, true, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if retryableStates[pqErr.Code] {
			return wrap(SourceStore, KindNetworkTransient, true, err)
		}
		switch pqErr.Code.Class() {
		case "08", "53":
			return wrap(SourceStore, KindNetworkTransient, true, err)
		case "23":
			return wrap(SourceStore, KindConflict, false, err)
		case "22", "42":
			return wrap(SourceStore, KindValidation, false, err)
		}
		return unknown(SourceStore, err)
	}

	if transportFailure(err) {
		return wrap(SourceStore, KindNetworkTransient, true, err)
	}
	return unknown(SourceStore, err)
}
