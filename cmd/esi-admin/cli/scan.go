package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/esi-router/pkg/esi"
)

type scanOptions struct {
	asJSON bool
}

func newScanCmd() *cobra.Command {
	opts := scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [file|-]",
		Short: "List the ESI directives of a page without fetching anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")
	return cmd
}

type scanLine struct {
	Kind   string            `json:"kind"`
	Start  int               `json:"start"`
	End    int               `json:"end"`
	Src    string            `json:"src,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
	Reason string            `json:"reason,omitempty"`
}

func runScan(cmd *cobra.Command, args []string, opts scanOptions) error {
	body, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	ds, errs := esi.Scan(string(body))

	lines := make([]scanLine, 0, len(ds)+len(errs))
	for _, d := range ds {
		lines = append(lines, scanLine{Kind: d.Kind.String(), Start: d.Start, End: d.End, Src: d.Src(), Attrs: d.Attrs})
	}
	for _, e := range errs {
		lines = append(lines, scanLine{Kind: "error", Start: e.Start, End: e.End, Reason: e.Reason})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Start < lines[j].Start })

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(lines)
	}
	for _, l := range lines {
		switch {
		case l.Reason != "":
			fmt.Fprintf(out, "%d-%d\terror\t%s\n", l.Start, l.End, l.Reason)
		case l.Src != "":
			fmt.Fprintf(out, "%d-%d\t%s\tsrc=%s\n", l.Start, l.End, l.Kind, l.Src)
		default:
			fmt.Fprintf(out, "%d-%d\t%s\n", l.Start, l.End, l.Kind)
		}
	}
	fmt.Fprintf(out, "directives=%d errors=%d\n", countKinds(lines), len(errs))
	return nil
}

func countKinds(lines []scanLine) int {
	n := 0
	for _, l := range lines {
		if l.Kind == esi.KindInclude.String() || l.Kind == esi.KindVars.String() {
			n++
		}
	}
	return n
}

