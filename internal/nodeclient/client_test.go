package nodeclient

import "testing"

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want int64
	}{
		{"btc decimal below threshold", 0.0001, 10000},
		{"btc decimal fraction rounds", 0.000045, 4500},
		{"already satoshis at threshold", 1_000_000, 1_000_000},
		{"already satoshis above threshold", 21_000_000, 21_000_000},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeAmount(tt.in); got != tt.want {
				t.Fatalf("NormalizeAmount(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
