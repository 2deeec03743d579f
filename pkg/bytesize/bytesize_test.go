package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Size
	}{
		{"0", 0},
		{"1024", 1024},
		{"500KB", 500 * KB},
		{"100MB", 100 * MB},
		{"100 MB", 100 * MB},
		{"100MiB", 100 * MB},
		{"1.5GB", Size(1.5 * float64(GB))},
		{"2tb", 2 * TB},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "MB", "ten MB", "100XB", "-5MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "100MB", Format(100*MB))
	assert.Equal(t, "1.5GB", Format(Size(1.5*float64(GB))))
	assert.Equal(t, "512B", Format(512))
	assert.Equal(t, "10KB", Format(10*KB))
}
