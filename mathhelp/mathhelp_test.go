package mathhelp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloorToMultiple(t *testing.T) {
	tests := []struct {
		d, m int
		want int
	}{
		{d: 81, m: 5, want: 80},
		{d: -81, m: 5, want: -85},
		{d: -176, m: 5, want: -180},
		{d: -180, m: 5, want: -180},
		{d: 0, m: 5, want: 0},
		{d: -1, m: 5, want: -5},
		{d: 4, m: 5, want: 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.d, tt.m), func(t *testing.T) {
			assert.Equal(t, tt.want, FloorToMultiple(tt.d, tt.m))
		})
	}
}

func TestRoundDiv(t *testing.T) {
	tests := []struct {
		n, d int64
		want int64
	}{
		{n: 10, d: 4, want: 3},
		{n: 9, d: 4, want: 2},
		{n: -10, d: 4, want: -3},
		{n: -9, d: 4, want: -2},
		{n: 36, d: 9, want: 4},
		{n: 0, d: 9, want: 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.d), func(t *testing.T) {
			assert.Equal(t, tt.want, RoundDiv(tt.n, tt.d))
		})
	}
}

func TestClampAndBetween(t *testing.T) {
	assert.Equal(t, 32767, Clamp(40000, -32768, 32767))
	assert.Equal(t, -32768, Clamp(-40000, -32768, 32767))
	assert.Equal(t, 12, Clamp(12, -32768, 32767))
	assert.True(t, BetweenInc(5, 10, 0))
	assert.False(t, BetweenInc(11, 0, 10))
	assert.Equal(t, 7, MaxOf(3, 7, -1))
	assert.Equal(t, -1, FloorInt(-0.5))
}
