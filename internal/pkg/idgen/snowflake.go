// Package idgen 生成订单号 (snowflake) 与预留号 (uuid)。
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// epoch 2024-01-01 00:00:00 +08:00，单位毫秒
const epoch int64 = 1704038400000

func init() {
	snowflake.Epoch = epoch
}

// Generator 按节点号生成趋势递增的订单号
type Generator struct {
	node *snowflake.Node
}

// NewGenerator nodeID 取值 [0, 1023]，集群内每个实例必须唯一
func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("idgen: create snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) NextOrderID() string {
	return g.node.Generate().String()
}

func (g *Generator) NextReservationID() string {
	return uuid.NewString()
}
