package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/shoe-image-service/internal/notify"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

var timeNow = time.Now

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <model>",
		Short: "Resolves one shoe model and prints the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res := appInstance.Resolve(cmd.Context(), strings.Join(args, " "))
			return printResult(cmd, res)
		},
	}
}

func printResult(cmd *cobra.Command, res retrieval.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(notify.FromResult(res, timeNow())); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("resolve %q: %s", res.Query, res.Outcome)
	}
	return nil
}
