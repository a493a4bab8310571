package util

import (
	"strconv"

	"github.com/google/uuid"
)

// IDSource supplies unique ids for orders and trades. Injected so that tests
// can run with deterministic ids.
type IDSource interface {
	NextID() string
}

type UUIDSource struct{}

func (UUIDSource) NextID() string { return uuid.NewString() }

// SeqIDSource generates "prefix-1", "prefix-2", ... Not safe for concurrent use.
type SeqIDSource struct {
	Prefix string
	n      int
}

func (s *SeqIDSource) NextID() string {
	s.n++
	return s.Prefix + "-" + strconv.Itoa(s.n)
}
