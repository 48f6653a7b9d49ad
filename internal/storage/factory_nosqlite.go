//go:build !sqlite

package storage

import "errors"

// ErrSQLiteUnavailable is returned by NewStore when the binary was built
// without the sqlite tag.
var ErrSQLiteUnavailable = errors.New("sqlite backend unavailable in this build; rebuild with -tags sqlite")

func newSQLiteStore(_ string) (Store, error) {
	return nil, ErrSQLiteUnavailable
}
