package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxPercent(t *testing.T) {
	b := NewBox(NewPoint(100, 100), 220, 140)

	assert.Equal(t, 0., b.XPercent(NewPoint(100, 0)))
	assert.Equal(t, 50., b.XPercent(NewPoint(210, 0)))
	assert.Equal(t, 100., b.XPercent(NewPoint(320, 0)))
	assert.Equal(t, 50., b.YPercent(NewPoint(0, 170)))

	// saturates outside the box
	assert.Equal(t, 0., b.XPercent(NewPoint(-50, 0)))
	assert.Equal(t, 100., b.YPercent(NewPoint(0, 9999)))
}

func TestBoxContains(t *testing.T) {
	b := NewBox(NewPoint(0, 0), 10, 10)
	assert.True(t, b.Contains(NewPoint(5, 5)))
	assert.True(t, b.Contains(NewPoint(0, 10)))
	assert.False(t, b.Contains(NewPoint(10.01, 5)))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5., Clamp(0, 5, 95))
	assert.Equal(t, 95., Clamp(100, 5, 95))
	assert.Equal(t, 42., Clamp(42, 5, 95))
}

func TestEuclideanDistance(t *testing.T) {
	assert.Equal(t, 5., EuclideanDistance(0, 0, 3, 4))
	assert.Equal(t, 7., EuclideanDistance(0, 2, 0, 9))
}
