package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/optipress/optipress/internal/observability"
	"github.com/optipress/optipress/internal/rewrite"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite [file]",
	Short: "Rewrite delivery markup to reference converted media",
	Long: `Rewrite an HTML fragment so that img tags become picture elements
and video tags gain modern-format sources, with the original file kept
as the last fallback. Reads from the given file, or stdin when no file
is given, and writes the rewritten markup to stdout.

Only media tracked in the conversion ledger and present on disk is
substituted. Unknown sources are left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRewrite,
}

func init() {
	rootCmd.AddCommand(rewriteCmd)
}

func runRewrite(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	application, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer application.cleanup()

	var input []byte
	if len(args) == 1 {
		input, err = os.ReadFile(args[0])
	} else {
		input, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	rewriter, err := rewrite.New(application.cfg.Storage.UploadsDir, application.cfg.Storage.BaseURL)
	if err != nil {
		return fmt.Errorf("initializing rewriter: %w", err)
	}
	rewriter.WithLogger(observability.WithComponent(application.logger, "rewrite"))

	output, err := rewriter.RewriteContent(ctx, string(input), application.svc.LookupArtifacts)
	if err != nil {
		return fmt.Errorf("rewriting content: %w", err)
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), output)
	return err
}
