package ids

import "github.com/segmentio/ksuid"

// New returns a time ordered, URL safe identifier.
func New() string {
	return ksuid.New().String()
}
