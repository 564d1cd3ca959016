package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsQty(t *testing.T) {
	tests := []struct {
		name          string
		maxDollarRisk float64
		stopLossPct   float64
		premium       float64
		want          int
	}{
		{
			name:          "small budget floors at one contract",
			maxDollarRisk: 50, stopLossPct: 10, premium: 5.00,
			want: 1,
		},
		{
			name:          "budget divides cleanly",
			maxDollarRisk: 200, stopLossPct: 10, premium: 2.00,
			want: 10,
		},
		{
			name:          "fractional result truncates",
			maxDollarRisk: 150, stopLossPct: 10, premium: 1.00,
			want: 15,
		},
		{
			name:          "zero premium falls back to one",
			maxDollarRisk: 100, stopLossPct: 10, premium: 0,
			want: 1,
		},
		{
			name:          "zero stop pct falls back to one",
			maxDollarRisk: 100, stopLossPct: 0, premium: 5.00,
			want: 1,
		},
		{
			name:          "negative inputs fall back to one",
			maxDollarRisk: -100, stopLossPct: 10, premium: 5.00,
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OptionsQty(tt.maxDollarRisk, tt.stopLossPct, tt.premium))
		})
	}
}
