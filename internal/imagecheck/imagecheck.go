// Package imagecheck performs structural validation of downloaded image bytes.
package imagecheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	// Registered decoders for the formats strip sites serve.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrInvalidImage wraps every validation failure.
var ErrInvalidImage = errors.New("invalid image")

// Config bounds what the pipeline accepts.
type Config struct {
	MaxBytes  int64 `mapstructure:"max_bytes"`
	MinWidth  int `mapstructure:"min_width"`
	MinHeight int `mapstructure:"min_height"`
}

// Info describes a decoded image header.
type Info struct {
	Format string
	Width  int
	Height int
	Bytes  int
}

// Validator checks image bytes against Config.
type Validator struct {
	cfg Config
}

// New returns a Validator. Zero limits are disabled.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate confirms data decodes to an image with positive dimensions that
// satisfies the configured size and dimension limits.
func (v *Validator) Validate(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if v.cfg.MaxBytes > 0 && int64(len(data)) > v.cfg.MaxBytes {
		return Info{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), v.cfg.MaxBytes)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: non-positive dimensions %dx%d", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	info := Info{Format: format, Width: cfg.Width, Height: cfg.Height, Bytes: len(data)}
	if v.cfg.MinWidth > 0 || v.cfg.MinHeight > 0 {
		if err := CheckMinDimensions(info, v.cfg.MinWidth, v.cfg.MinHeight); err != nil {
			return info, err
		}
	}
	return info, nil
}

// CheckMinDimensions rejects images smaller than minWidth x minHeight.
func CheckMinDimensions(info Info, minWidth, minHeight int) error {
	if info.Width < minWidth || info.Height < minHeight {
		return fmt.Errorf("%w: %dx%d below minimum %dx%d", ErrInvalidImage, info.Width, info.Height, minWidth, minHeight)
	}
	return nil
}
