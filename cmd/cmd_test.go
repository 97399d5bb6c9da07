package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shoe-image-service/internal/notify"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

func TestPrintResultSuccess(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err := printResult(cmd, retrieval.Result{
		Query:        "Primus Lite",
		Success:      true,
		Outcome:      retrieval.OutcomeSuccess,
		ArtifactPath: "primus-lite-0123abcd.jpg",
		Duration:     2 * time.Second,
	})
	require.NoError(t, err)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
	assert.Equal(t, "primus-lite-0123abcd.jpg", ev.ArtifactPath)
	assert.Equal(t, int64(2000), ev.DurationMS)
}

func TestPrintResultFailureReturnsError(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err := printResult(cmd, retrieval.Result{
		Query:   "Nope",
		Outcome: retrieval.OutcomeNotFound,
		Err:     errors.New("no candidate survived validation"),
	})
	require.ErrorContains(t, err, "not_found")
	assert.Contains(t, out.String(), "no candidate survived validation")
}

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["resolve"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestResolveRequiresModel(t *testing.T) {
	t.Parallel()

	cmd := newResolveCmd()
	require.Error(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"Primus", "Lite"}))
}
