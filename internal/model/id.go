package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new ULID string. IDs made by one process sort in creation
// order, which the journal relies on to break timestamp ties.
func NewID() string {
	return ulid.Make().String()
}

// ParseID validates id and returns the time encoded in it.
func ParseID(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
