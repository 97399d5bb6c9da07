package normalize

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	"golang.org/x/text/encoding/unicode"

	"github.com/JakeFAU/shoe-image-service/internal/slug"
)

const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerAPP1   = 0xE1
	// A segment length field covers itself, so payloads max out at 65533.
	maxSegmentPayload = 0xFFFF - 2

	// Field caps keep the whole IFD0 well inside one APP1 segment.
	maxTextField    = 2048
	maxKeywords     = 32
	maxKeywordsText = 1024
)

var exifIdentifier = []byte("Exif\x00\x00")

// ErrNotJPEG is returned when Embed is handed a buffer without a JPEG SOI.
var ErrNotJPEG = errors.New("buffer is not a jpeg stream")

// Metadata is the attribution and SEO data written into IFD0.
type Metadata struct {
	Description string
	Artist      string
	Copyright   string
	Software    string
	Keywords    []string
}

// Embed inserts an EXIF APP1 segment carrying meta right after the SOI
// marker of a freshly encoded JPEG.
func Embed(jpegData []byte, meta Metadata) ([]byte, error) {
	if len(jpegData) < 2 || jpegData[0] != markerPrefix || jpegData[1] != markerSOI {
		return nil, ErrNotJPEG
	}
	blob, err := BuildExif(meta)
	if err != nil {
		return nil, err
	}
	payload := append(append([]byte{}, exifIdentifier...), blob...)
	if len(payload) > maxSegmentPayload {
		return nil, fmt.Errorf("exif segment too large: %d bytes", len(payload))
	}

	var out bytes.Buffer
	out.Grow(len(jpegData) + len(payload) + 4)
	out.Write(jpegData[:2])
	out.Write([]byte{markerPrefix, markerAPP1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpegData[2:])
	return out.Bytes(), nil
}

// BuildExif encodes meta as a TIFF-structured EXIF block with a single IFD0.
func BuildExif(meta Metadata) ([]byte, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, fmt.Errorf("exif ifd mapping: %w", err)
	}
	ti := exif.NewTagIndex()
	ib := exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)

	description := meta.Description
	if kw := joinKeywords(meta.Keywords); kw != "" {
		encoded, err := xpString(kw)
		if err != nil {
			return nil, err
		}
		if err := ib.AddStandardWithName("XPKeywords", encoded); err != nil {
			// Keep the keywords searchable even where the XP tag is refused.
			description = strings.TrimSpace(description + " (" + kw + ")")
		}
	}

	ascii := []struct{ tag, value string }{
		{"ImageDescription", description},
		{"Artist", meta.Artist},
		{"Copyright", meta.Copyright},
		{"Software", meta.Software},
	}
	for _, f := range ascii {
		v := truncate(strings.TrimSpace(slug.Fold(f.value)), maxTextField)
		if v == "" {
			continue
		}
		if err := ib.AddStandardWithName(f.tag, v); err != nil {
			return nil, fmt.Errorf("exif tag %s: %w", f.tag, err)
		}
	}

	blob, err := exif.NewIfdByteEncoder().EncodeToExif(ib)
	if err != nil {
		return nil, fmt.Errorf("encode exif: %w", err)
	}
	return blob, nil
}

// joinKeywords keeps at most maxKeywords entries and stops before the joined
// text would pass maxKeywordsText bytes. A single oversized keyword is cut.
func joinKeywords(keywords []string) string {
	var b strings.Builder
	n := 0
	for _, k := range keywords {
		if n == maxKeywords {
			break
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if n > 0 {
			if b.Len()+1+len(k) > maxKeywordsText {
				break
			}
			b.WriteByte(';')
		} else {
			k = truncate(k, maxKeywordsText)
		}
		b.WriteString(k)
		n++
	}
	return b.String()
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

// xpString encodes s the way Windows XP* tags expect: NUL-terminated UTF-16LE.
func xpString(s string) ([]byte, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("utf-16 encode keywords: %w", err)
	}
	return append(b, 0, 0), nil
}
