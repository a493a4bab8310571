package numutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestScale(t *testing.T) {
	tests := []struct {
		name     string
		v        string
		accuracy int32
		roundUp  bool
		want     string
	}{
		{"round up away from zero", "1.231", 2, true, "1.24"},
		{"round down towards zero", "1.239", 2, false, "1.23"},
		{"negative round up away from zero", "-1.231", 2, true, "-1.24"},
		{"negative round down towards zero", "-1.239", 2, false, "-1.23"},
		{"exact value unchanged", "1.23", 2, true, "1.23"},
		{"zero accuracy", "1.5", 0, false, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scale(dec(tt.v), tt.accuracy, tt.roundUp)
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestScaleHalfUp(t *testing.T) {
	tests := []struct {
		v        string
		accuracy int32
		want     string
	}{
		{"1.235", 2, "1.24"},
		{"1.234", 2, "1.23"},
		{"-1.235", 2, "-1.24"},
		{"2.5", 0, "3"},
	}
	for _, tt := range tests {
		got := ScaleHalfUp(dec(tt.v), tt.accuracy)
		assert.True(t, got.Equal(dec(tt.want)), "ScaleHalfUp(%s, %d) = %s, want %s", tt.v, tt.accuracy, got, tt.want)
	}
}

func TestDivideMaxScale(t *testing.T) {
	got := DivideMaxScale(dec("1"), dec("3"))
	assert.True(t, got.Equal(dec("0.3333333333333333")), "got %s", got)

	got = DivideMaxScale(dec("10"), dec("4"))
	assert.True(t, got.Equal(dec("2.5")), "got %s", got)
}

func TestCheckScale(t *testing.T) {
	assert.True(t, CheckScale(dec("1.23"), 2))
	assert.True(t, CheckScale(dec("1.2"), 2))
	assert.True(t, CheckScale(dec("100"), 0))
	assert.False(t, CheckScale(dec("1.234"), 2))
	assert.False(t, CheckScale(dec("0.5"), 0))
}

func TestDeltaComparisons(t *testing.T) {
	assert.True(t, IsZeroWithDelta(dec("0.0000000009")))
	assert.False(t, IsZeroWithDelta(dec("0.000000001")))
	assert.True(t, EqualsWithDelta(dec("1.0000000001"), dec("1")))
	assert.False(t, EqualsWithDelta(dec("1.1"), dec("1")))
}
