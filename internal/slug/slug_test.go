package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Vivobarefoot Primus Lite III": "vivobarefoot-primus-lite-iii",
		"Über Schüh 2.0":               "uber-schuh-2-0",
		"  ASICS / Gel-Kayano® 30 ":    "asics-gel-kayano-30",
		"日本":                           Fallback,
		"":                             Fallback,
	}
	for in, want := range tests {
		assert.Equal(t, want, Make(in), "input %q", in)
	}
}

func TestFold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Creme Brulee", Fold("Crème Brûlée"))
	assert.Equal(t, "Nike  Air", Fold("Nike ✓ Air"))
}
