package imagecheck

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	t.Parallel()

	small := pngBytes(t, 10, 5)
	tests := []struct {
		name    string
		cfg     Config
		data    []byte
		wantErr bool
	}{
		{name: "valid png", data: small},
		{name: "empty", data: nil, wantErr: true},
		{name: "garbage", data: []byte("<html>oops</html>"), wantErr: true},
		{name: "too large", cfg: Config{MaxBytes: 10}, data: small, wantErr: true},
		{name: "exactly at limit", cfg: Config{MaxBytes: int64(len(small))}, data: small},
		{name: "one byte over limit", cfg: Config{MaxBytes: int64(len(small)) - 1}, data: small, wantErr: true},
		{name: "below min width", cfg: Config{MinWidth: 20}, data: small, wantErr: true},
		{name: "meets min dims", cfg: Config{MinWidth: 10, MinHeight: 5}, data: small},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := New(tt.cfg).Validate(tt.data)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidImage)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "png", info.Format)
			require.Equal(t, 10, info.Width)
			require.Equal(t, 5, info.Height)
			require.Equal(t, len(tt.data), info.Bytes)
		})
	}
}

func TestCheckMinDimensions(t *testing.T) {
	t.Parallel()

	info := Info{Width: 600, Height: 200}
	require.NoError(t, CheckMinDimensions(info, 600, 200))
	require.ErrorIs(t, CheckMinDimensions(info, 601, 0), ErrInvalidImage)
	require.ErrorIs(t, CheckMinDimensions(info, 0, 201), ErrInvalidImage)
}
