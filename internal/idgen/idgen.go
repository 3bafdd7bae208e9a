// Package idgen generates short, sortable, unique identifiers for tasks
// and manager entries.
package idgen

import "github.com/rs/xid"

// New returns a new globally unique identifier as a short string.
func New() string {
	return xid.New().String()
}
