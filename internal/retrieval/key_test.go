package retrieval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Vivobarefoot Primus Lite III", "vivobarefoot-primus-lite-iii"},
		{"punctuation and casing", "  VIVOBAREFOOT primus--lite, iii!! ", "vivobarefoot-primus-lite-iii"},
		{"digits kept", "Nike Air Max 90", "nike-air-max-90"},
		{"unicode letters kept", "Über Shoe", "über-shoe"},
		{"only punctuation", "!!! ---", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NormalizeKey(tt.input))
		})
	}
}

func TestVerdictLabelAndAccepted(t *testing.T) {
	t.Parallel()

	v := Verdict{Status: VerdictApproved, Brand: "Vivobarefoot", CanonicalModel: "Primus Lite III"}
	require.True(t, v.Accepted())
	require.Equal(t, "Vivobarefoot Primus Lite III", v.Label())

	bypass := BypassVerdict(" primus lite ")
	require.True(t, bypass.Accepted())
	require.Equal(t, "primus lite", bypass.Label())

	require.False(t, Verdict{Status: VerdictRejectedSemantic}.Accepted())
	require.False(t, Verdict{Status: VerdictRejectedStructural}.Accepted())
}

func TestArtifactsSet(t *testing.T) {
	t.Parallel()

	var a Artifacts
	a.Set(StageRaw, "raw.jpg")
	a.Set(StageRejected, "rej.jpg")
	a.Set(StageApprovedRaw, "")
	require.Equal(t, Artifacts{Raw: "raw.jpg", Rejected: "rej.jpg"}, a)
}
