package inverter

import "testing"

func TestSplitBySign(t *testing.T) {
	tests := []struct {
		value        float64
		wantPositive float64
		wantNegative float64
	}{
		{value: 3.2, wantPositive: 3.2, wantNegative: 0},
		{value: -1.5, wantPositive: 0, wantNegative: 1.5},
		{value: 0, wantPositive: 0, wantNegative: 0},
	}
	for _, tt := range tests {
		pos, neg := splitBySign(tt.value)
		if pos != tt.wantPositive || neg != tt.wantNegative {
			t.Errorf("splitBySign(%v) = (%v, %v), want (%v, %v)", tt.value, pos, neg, tt.wantPositive, tt.wantNegative)
		}
	}
}
