package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"oss.terrastruct.com/util-go/go2"
)

func TestClampSize(t *testing.T) {
	b := BaseBlock()
	b.Width = 10
	b.Height = 10000
	b.ClampSize()
	assert.Equal(t, MIN_BLOCK_WIDTH, b.Width)
	assert.Equal(t, 10000., b.Height)
}

func TestClampOffset(t *testing.T) {
	assert.Equal(t, PORT_OFFSET_MIN, ClampOffset(0))
	assert.Equal(t, PORT_OFFSET_MAX, ClampOffset(100))
	assert.Equal(t, 50., ClampOffset(50))
}

func TestPortLookup(t *testing.T) {
	b := BaseBlock()
	b.Ports = []Port{
		{ID: "p1", Name: "cmd", Direction: DirectionIn},
		{ID: "p2", Name: "telemetry", Direction: DirectionOut},
	}
	assert.Equal(t, "telemetry", b.Port("p2").Name)
	assert.Nil(t, b.Port("p3"))

	// mutating through the pointer reaches the block
	b.Port("p1").Offset = go2.Pointer(42.)
	assert.Equal(t, 42., *b.Ports[0].Offset)
}

func TestKinds(t *testing.T) {
	assert.True(t, IsKind("Subsystem"))
	assert.False(t, IsKind("widget"))
	assert.True(t, IsConnectorKind("flow"))
	assert.False(t, IsConnectorKind(""))
}

func TestConnectorReferences(t *testing.T) {
	c := Connector{Src: "a", Dst: "b"}
	assert.True(t, c.References("a"))
	assert.True(t, c.References("b"))
	assert.False(t, c.References("c"))
}
