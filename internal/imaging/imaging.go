// Package imaging holds the decode, resize, and encode helpers shared by the
// validators and the normalizer.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"net/http"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// DefaultJPEGQuality is used when callers pass a non-positive quality.
const DefaultJPEGQuality = 90

// ErrEmpty rejects zero-length buffers before any decoder runs.
var ErrEmpty = errors.New("empty image buffer")

// Decode decodes any registered format (JPEG, PNG, GIF, WebP).
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// LooksLikeImage sniffs the buffer's content type.
func LooksLikeImage(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if strings.HasPrefix(http.DetectContentType(data), "image/") {
		return true
	}
	// DetectContentType does not know every container; fall back to a decode probe.
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err == nil
}

// MIMEType returns the sniffed MIME type, defaulting to image/jpeg.
func MIMEType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

// EncodeJPEG flattens img onto white and encodes it as JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Flatten composites img over an opaque white canvas anchored at the origin.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := WhiteCanvas(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// WhiteCanvas allocates a w x h RGBA image filled with opaque white.
func WhiteCanvas(w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return dst
}

// Fit scales img down so its longer side is at most maxDim. Images already
// within bounds are returned unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	nw, nh := maxDim, maxDim
	if w >= h {
		nh = max(1, h*maxDim/w)
	} else {
		nw = max(1, w*maxDim/h)
	}
	dst := WhiteCanvas(nw, nh)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Thumbnail decodes data, fits it within maxDim, and re-encodes as JPEG.
func Thumbnail(data []byte, maxDim, quality int) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Fit(img, maxDim), quality)
}
