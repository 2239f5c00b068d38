package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/esi-router/internal/version"
)

func Run(args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "esi-admin",
		Short:         "ESI tooling: render and inspect pages offline",
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newRenderCmd(),
		newScanCmd(),
		newValidateCmd(),
	)
	return cmd
}

// readInput reads the named file, or stdin for "-" or no argument.
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	// #nosec G304 -- input path comes from the operator.
	b, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", args[0], err)
	}
	return b, nil
}

// parseKVs turns repeated "key=value" flags into a map.
func parseKVs(flag string, items []string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--%s %q: want key=value", flag, item)
		}
		out[k] = v
	}
	return out, nil
}
