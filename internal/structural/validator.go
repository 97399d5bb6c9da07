// Package structural implements the local border heuristic that rejects
// lifestyle and scenery shots before any model call is made.
package structural

import (
	"image"

	"go.uber.org/zap"

	"github.com/JakeFAU/shoe-image-service/internal/imaging"
)

// Defaults for the border heuristic.
const (
	DefaultThreshold    = 0.95
	DefaultWhiteLevel   = 240
	maxBorderThickness  = 5
	borderFractionDenom = 10
)

// Config tunes the border heuristic.
type Config struct {
	// Threshold is the fraction of near-white border samples required to pass.
	Threshold float64 `mapstructure:"threshold"`
	// WhiteLevel is the per-channel value (0-255) a pixel must exceed.
	WhiteLevel uint8 `mapstructure:"white_level"`
}

// Validator checks that an image sits on a near-white background.
type Validator struct {
	threshold  float64
	whiteLevel uint32
	logger     *zap.Logger
}

// New builds a Validator, filling zero fields with defaults.
func New(cfg Config, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.WhiteLevel == 0 {
		cfg.WhiteLevel = DefaultWhiteLevel
	}
	return &Validator{
		threshold:  cfg.Threshold,
		whiteLevel: uint32(cfg.WhiteLevel),
		logger:     logger.Named("structural"),
	}
}

// Validate reports whether the fraction of near-white border pixels exceeds
// the threshold. Undecodable or undersized images fail.
func (v *Validator) Validate(data []byte) bool {
	img, _, err := imaging.Decode(data)
	if err != nil {
		v.logger.Debug("undecodable candidate", zap.Error(err))
		return false
	}
	ratio, ok := v.WhiteRatio(img)
	if !ok {
		v.logger.Debug("image too small to sample border",
			zap.Int("width", img.Bounds().Dx()),
			zap.Int("height", img.Bounds().Dy()))
		return false
	}
	pass := ratio > v.threshold
	v.logger.Debug("border sampled", zap.Float64("white_ratio", ratio), zap.Bool("pass", pass))
	return pass
}

// WhiteRatio samples the top, bottom, left, and right strips and returns the
// near-white fraction. Corner pixels belong to two strips and are counted in
// both. Transparent pixels are composited over white before sampling. ok is
// false when the border thickness would be zero.
func (v *Validator) WhiteRatio(img image.Image) (ratio float64, ok bool) {
	if o, canTell := img.(interface{ Opaque() bool }); !canTell || !o.Opaque() {
		img = imaging.Flatten(img)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := BorderThickness(w, h)
	if t <= 0 {
		return 0, false
	}

	var white, total int
	sample := func(x, y int) {
		total++
		if v.nearWhite(img, x, y) {
			white++
		}
	}
	for dy := 0; dy < t; dy++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sample(x, b.Min.Y+dy)
			sample(x, b.Max.Y-1-dy)
		}
	}
	for dx := 0; dx < t; dx++ {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			sample(b.Min.X+dx, y)
			sample(b.Max.X-1-dx, y)
		}
	}
	return float64(white) / float64(total), true
}

// BorderThickness is min(5px, 10% of width, 10% of height).
func BorderThickness(w, h int) int {
	return min(maxBorderThickness, w/borderFractionDenom, h/borderFractionDenom)
}

func (v *Validator) nearWhite(img image.Image, x, y int) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	return r>>8 > v.whiteLevel && g>>8 > v.whiteLevel && b>>8 > v.whiteLevel
}
