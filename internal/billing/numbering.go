package billing

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// NumberGenerator issues bill numbers.
type NumberGenerator interface {
	Next() string
}

// SnowflakeNumbers derives time-ordered, globally unique bill numbers. Each process
// that settles bills needs a distinct node id.
type SnowflakeNumbers struct {
	node   *snowflake.Node
	prefix string
}

// NewSnowflakeNumbers creates a generator for node (0-1023).
func NewSnowflakeNumbers(node int64) (*SnowflakeNumbers, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("billing: snowflake node %d: %w", node, err)
	}
	return &SnowflakeNumbers{node: n, prefix: "BILL-"}, nil
}

// Next implements NumberGenerator.
func (g *SnowflakeNumbers) Next() string {
	return g.prefix + g.node.Generate().String()
}
