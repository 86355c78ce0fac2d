package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeToString(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1572864, "1.5 MB"},
		{10 * 1024 * 1024, "10 MB"},
		{5 * 1024 * 1024 * 1024, "5 GB"},
		{1 << 60, "1 EB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SizeToString(tt.in), "%d", tt.in)
	}
}
