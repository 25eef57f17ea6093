// Package idgen issues identifiers: UUIDs for bookings, snowflake ids for payment-side records.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

type Generator interface {
	NewID() string
}

// Snowflake ids are time-ordered, so payments and refunds sort by creation.
type Snowflake struct {
	node *snowflake.Node
}

func NewSnowflake(node int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &Snowflake{node: n}, nil
}

func (s *Snowflake) NewID() string {
	return s.node.Generate().String()
}

type UUID struct{}

func (UUID) NewID() string {
	return uuid.NewString()
}

var (
	_ Generator = (*Snowflake)(nil)
	_ Generator = UUID{}
)
