// Package normalize turns an accepted candidate into the published artifact:
// orientation correction, one cosmetic perturbation, JPEG re-encode, and
// embedded attribution metadata.
package normalize

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/JakeFAU/shoe-image-service/internal/imaging"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

// PortraitRatio is the height/width ratio above which an image is rotated
// even when the verdict did not ask for it.
const PortraitRatio = 1.2

// Perturbation bounds.
const (
	MaxTiltDegrees = 1.0
	MinBrightness  = 0.95
	MaxBrightness  = 1.05
)

// Config controls the normalizer.
type Config struct {
	// Seed makes perturbation choices reproducible; zero seeds from the clock.
	Seed        uint64 `mapstructure:"seed"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	Copyright   string `mapstructure:"copyright"`
	Artist      string `mapstructure:"artist"`
	Software    string `mapstructure:"software"`
}

// Kind names a cosmetic perturbation.
type Kind string

// Perturbation kinds; exactly one is applied per artifact.
const (
	KindFlip       Kind = "flip"
	KindTilt       Kind = "tilt"
	KindBrightness Kind = "brightness"
)

var kinds = [...]Kind{KindFlip, KindTilt, KindBrightness}

// Perturbation is one drawn cosmetic change. Amount is degrees for a tilt and
// a multiplier for brightness.
type Perturbation struct {
	Kind   Kind
	Amount float64
}

// Normalizer implements retrieval.Normalizer.
type Normalizer struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Normalizer.
func New(cfg Config, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = imaging.DefaultJPEGQuality
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Normalizer{
		cfg:    cfg,
		logger: logger.Named("normalize"),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Normalize implements retrieval.Normalizer.
func (n *Normalizer) Normalize(data []byte, verdict retrieval.Verdict) ([]byte, error) {
	src, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	img, rotated := Orient(src, verdict.SuggestedRotation)
	p := n.pick()
	img = Apply(img, p)

	encoded, err := imaging.EncodeJPEG(img, n.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	out, err := Embed(encoded, n.metadata(verdict))
	if err != nil {
		return nil, fmt.Errorf("embed metadata: %w", err)
	}
	n.logger.Debug("normalized artifact",
		zap.Bool("rotated", rotated),
		zap.String("perturbation", string(p.Kind)),
		zap.Float64("amount", p.Amount),
		zap.Int("bytes", len(out)))
	return out, nil
}

func (n *Normalizer) metadata(v retrieval.Verdict) Metadata {
	label := v.Label()
	desc := "Product photo"
	keywords := v.Keywords
	if label != "" {
		desc = label + " product photo"
		keywords = append([]string{label}, v.Keywords...)
	}
	return Metadata{
		Description: desc,
		Artist:      n.cfg.Artist,
		Copyright:   n.cfg.Copyright,
		Software:    n.cfg.Software,
		Keywords:    keywords,
	}
}

// pick chooses exactly one perturbation. The generator is shared across
// concurrent requests.
func (n *Normalizer) pick() Perturbation {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch k := kinds[n.rng.IntN(len(kinds))]; k {
	case KindTilt:
		deg := (n.rng.Float64()*2 - 1) * MaxTiltDegrees
		return Perturbation{Kind: k, Amount: deg}
	case KindBrightness:
		return Perturbation{Kind: k, Amount: MinBrightness + n.rng.Float64()*(MaxBrightness-MinBrightness)}
	default:
		return Perturbation{Kind: k}
	}
}

// NeedsRotation reports whether orientation correction applies.
func NeedsRotation(w, h int, suggested bool) bool {
	return suggested || float64(h) > PortraitRatio*float64(w)
}

// Orient flattens img onto white and rotates it 90 degrees clockwise when
// the verdict asked for it or the image is markedly portrait.
func Orient(img image.Image, suggested bool) (*image.RGBA, bool) {
	flat := imaging.Flatten(img)
	b := flat.Bounds()
	if !NeedsRotation(b.Dx(), b.Dy(), suggested) {
		return flat, false
	}
	return Rotate90(flat), true
}

// Rotate90 rotates src 90 degrees clockwise.
func Rotate90(src *image.RGBA) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for dy := 0; dy < w; dy++ {
		for dx := 0; dx < h; dx++ {
			dst.SetRGBA(dx, dy, src.RGBAAt(dy, h-1-dx))
		}
	}
	return dst
}

// Apply performs p on img and returns the result; img is not modified.
func Apply(img *image.RGBA, p Perturbation) *image.RGBA {
	switch p.Kind {
	case KindFlip:
		return flip(img)
	case KindTilt:
		return tilt(img, p.Amount)
	case KindBrightness:
		return brighten(img, p.Amount)
	}
	return img
}

func flip(src *image.RGBA) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetRGBA(x, y, src.RGBAAt(w-1-x, y))
		}
	}
	return dst
}

// tilt rotates about the center by deg degrees; uncovered corners stay white.
func tilt(src *image.RGBA, deg float64) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := imaging.WhiteCanvas(w, h)
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx, cy := float64(w)/2, float64(h)/2
	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	draw.BiLinear.Transform(dst, m, src, src.Bounds(), draw.Over, nil)
	return dst
}

func brighten(src *image.RGBA, factor float64) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	for i := 0; i < len(src.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = uint8(min(255, math.Round(float64(src.Pix[i+c])*factor)))
		}
		dst.Pix[i+3] = src.Pix[i+3]
	}
	return dst
}
