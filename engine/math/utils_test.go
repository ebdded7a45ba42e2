package math

import "testing"

func TestAlignUp(t *testing.T) {
	tests := []struct {
		value, alignment, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{13, 0, 13},
		{13, 1, 13},
		{13, 12, 24},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.value, tt.alignment); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.value, tt.alignment, got, tt.want)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	if !IsPowerOfTwo(uint32(64)) || IsPowerOfTwo(uint32(0)) || IsPowerOfTwo(uint32(48)) {
		t.Error("power of two misdetected")
	}
}
