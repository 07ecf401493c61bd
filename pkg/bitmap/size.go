package bitmap

import (
	"fmt"
	"math"
	"math/bits"
)

// BytesPerPixel is the storage cost of one pixel.
const BytesPerPixel = 4

// MaxBitmapBytes is the upper sanity bound on any bitmap's byte capacity.
const MaxBitmapBytes = math.MaxInt32

// Size is a bitmap's dimensions in pixels.
type Size struct {
	Width  int
	Height int
}

func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// SizeInBytes returns the bytes needed for s. It fails for an empty size,
// on overflow, or when the result exceeds limit.
func SizeInBytes(s Size, limit int) (int, bool) {
	if s.Empty() {
		return 0, false
	}
	hi, n := bits.Mul64(uint64(s.Width), uint64(s.Height))
	if hi != 0 {
		return 0, false
	}
	hi, n = bits.Mul64(n, BytesPerPixel)
	if hi != 0 || limit < 0 || n > uint64(limit) {
		return 0, false
	}
	return int(n), true
}
