package bitmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeInBytes(t *testing.T) {
	cases := []struct {
		name  string
		size  Size
		limit int
		want  int
		ok    bool
	}{
		{"basic", Size{Width: 4, Height: 4}, 1 << 20, 64, true},
		{"at limit", Size{Width: 16, Height: 16}, 1024, 1024, true},
		{"over limit", Size{Width: 16, Height: 17}, 1024, 0, false},
		{"empty width", Size{Width: 0, Height: 10}, 1 << 20, 0, false},
		{"negative", Size{Width: 10, Height: -1}, 1 << 20, 0, false},
		{"area overflow", Size{Width: math.MaxInt, Height: math.MaxInt}, MaxBitmapBytes, 0, false},
		{"bytes overflow", Size{Width: 1 << 62, Height: 1}, MaxBitmapBytes, 0, false},
		{"negative limit", Size{Width: 1, Height: 1}, -1, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := SizeInBytes(c.size, c.limit)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestIDString(t *testing.T) {
	id := NewID()
	require.False(t, id.IsZero())
	require.NotEqual(t, id, NewID())

	parsed, err := IDFromString(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = IDFromString("abc")
	require.Error(t, err)
	_, err = IDFromString("zz" + id.String()[2:])
	require.Error(t, err)
}

func TestVerifyConfig(t *testing.T) {
	conf := DefaultConfig()
	require.NoError(t, VerifyConfig(conf))

	conf.MaxBitmapBytes = 1
	require.Error(t, VerifyConfig(conf))
	conf.MaxBitmapBytes = MaxBitmapBytes + 1
	require.Error(t, VerifyConfig(conf))
	conf.MaxBitmapBytes = 1 << 20

	conf.Allocator = nil
	require.Error(t, VerifyConfig(conf))
	conf = DefaultConfig()
	conf.MetricsNamespace = ""
	require.Error(t, VerifyConfig(conf))
	conf = DefaultConfig()
	conf.Tracer = nil
	require.Error(t, VerifyConfig(conf))

	require.Error(t, VerifyConfig(nil))
	_, err := New(&Config{})
	require.Error(t, err)
}
