package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domtaint/internal/observability"
	"github.com/xkilldash9x/domtaint/internal/taint/rewriter"
)

// newRewriteCmd creates the `rewrite` command, which prints the instrumented form of a
// script without running it.
func newRewriteCmd() *cobra.Command {
	rewriteCmd := &cobra.Command{
		Use:   "rewrite [file]",
		Short: "Prints the instrumented version of a JavaScript file",
		Long:  "Reads JavaScript from file, or from stdin when file is '-' or omitted, and prints the source the tracker would run in its place.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger().Named("rewrite")

			src, name, err := readSource(cmd, args)
			if err != nil {
				return err
			}

			out, err := rewriter.New(logger).RewriteContext(cmd.Context(), src)
			if err != nil {
				var perr *rewriter.ParseError
				if errors.As(err, &perr) {
					logger.Warn("Source does not parse.", zap.String("file", name), zap.Error(perr))
				}
				return fmt.Errorf("failed to rewrite %s: %w", name, err)
			}

			if mark, _ := cmd.Flags().GetBool("mark"); mark {
				out = rewriter.Mark(out)
			}
			if functions, _ := cmd.Flags().GetBool("functions"); functions {
				names, err := rewriter.TopLevelFunctions(src)
				if err != nil {
					return fmt.Errorf("failed to list functions of %s: %w", name, err)
				}
				for _, fn := range names {
					cmd.PrintErrln("function:", fn)
				}
			}

			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}

	rewriteCmd.Flags().Bool("mark", false, "prefix the output with the instrumentation marker")
	rewriteCmd.Flags().Bool("functions", false, "also list the top-level function declarations on stderr")
	return rewriteCmd
}

func readSource(cmd *cobra.Command, args []string) (src, name string, err error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), "<stdin>", nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return string(data), args[0], nil
}
