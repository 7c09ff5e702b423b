package perceptual

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func gradient(t *testing.T, reverse bool) image.Image {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 90, 80))
	for x := 0; x < 90; x++ {
		v := uint8(x * 255 / 89)
		if reverse {
			v = 255 - v
		}
		for y := 0; y < 80; y++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	_, err := New("md5")
	require.Error(t, err)
}

func TestHashIdenticalImages(t *testing.T) {
	t.Parallel()

	for _, algo := range []string{Average, Difference, Perception} {
		h, err := New(algo)
		require.NoError(t, err)
		require.Equal(t, algo, h.Algorithm())

		data := encodePNG(t, gradient(t, false))
		a, err := h.Hash(data)
		require.NoError(t, err)
		require.Len(t, a, 16)
		b, err := h.Hash(data)
		require.NoError(t, err)

		d, err := h.Distance(a, b)
		require.NoError(t, err)
		require.Zero(t, d, algo)
	}
}

func TestDifferenceHashSeparatesMirroredImages(t *testing.T) {
	t.Parallel()

	h, err := New(Difference)
	require.NoError(t, err)
	a, err := h.Hash(encodePNG(t, gradient(t, false)))
	require.NoError(t, err)
	b, err := h.Hash(encodePNG(t, gradient(t, true)))
	require.NoError(t, err)

	d, err := h.Distance(a, b)
	require.NoError(t, err)
	require.Greater(t, d, 32)
}

func TestHashDecodesJPEG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(t, false), &jpeg.Options{Quality: 90}))

	h, err := New(Average)
	require.NoError(t, err)
	_, err = h.Hash(buf.Bytes())
	require.NoError(t, err)
}

func TestHashRejectsGarbage(t *testing.T) {
	t.Parallel()

	h, err := New(Difference)
	require.NoError(t, err)
	_, err = h.Hash([]byte("not an image"))
	require.Error(t, err)
}

func TestDistanceValidatesInput(t *testing.T) {
	t.Parallel()

	h, err := New(Average)
	require.NoError(t, err)

	d, err := h.Distance("00000000000000ff", "000000000000000f")
	require.NoError(t, err)
	require.Equal(t, 4, d)

	_, err = h.Distance("xyz", "000000000000000f")
	require.Error(t, err)
	_, err = h.Distance("zzzzzzzzzzzzzzzz", "000000000000000f")
	require.Error(t, err)
}
