package seqnum

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderingNoWrap(t *testing.T) {
	assert.True(t, LT(10, 20))
	assert.False(t, LT(20, 10))
	assert.True(t, LEQ(10, 10))
	assert.True(t, GT(20, 10))
	assert.True(t, GEQ(10, 10))
}

func TestOrderingAcrossWraparound(t *testing.T) {
	// math.MaxUint32 is sequence-earlier than 10, since 10 is reached by
	// wrapping forward a few ticks past the 32-bit boundary.
	a := uint32(math.MaxUint32)
	b := uint32(10)
	assert.True(t, LT(a, b))
	assert.True(t, GT(b, a))
	assert.False(t, LT(b, a))
}

func TestMinMaxRespectWraparound(t *testing.T) {
	a := uint32(math.MaxUint32 - 5)
	b := uint32(5)
	assert.Equal(t, a, Min(a, b))
	assert.Equal(t, b, Max(a, b))
}

func TestEqualIsBothLEQAndGEQ(t *testing.T) {
	assert.True(t, LEQ(42, 42))
	assert.True(t, GEQ(42, 42))
	assert.False(t, LT(42, 42))
	assert.False(t, GT(42, 42))
}
