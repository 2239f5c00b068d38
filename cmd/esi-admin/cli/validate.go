package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/esi-router/internal/config"
)

type validateOptions struct {
	cfgPath string
}

func newValidateCmd() *cobra.Command {
	opts := validateOptions{cfgPath: "esi-router.yaml"}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the esi-router config and vars file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.cfgPath, "config", "c", "esi-router.yaml", "config yaml path")
	return cmd
}

func runValidate(cmd *cobra.Command, opts validateOptions) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(strings.TrimSpace(opts.cfgPath))
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Fprintln(out, "validate config: OK")

	if strings.TrimSpace(cfg.ESI.VarsFile) != "" {
		vars, err := config.LoadVarsFile(cfg.ESI.VarsFile)
		if err != nil {
			return fmt.Errorf("vars file invalid: %w", err)
		}
		fmt.Fprintf(out, "validate vars file: OK (%d vars)\n", len(vars))
	}
	return nil
}
