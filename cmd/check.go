package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/governance-engine/internal/model"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one policy pass and print the summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Engine.RunPass(ctx, model.PassCLI)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		formatPassSummary(os.Stdout, summary)
		return nil
	},
}

func formatPassSummary(out io.Writer, p *model.PassSummary) {
	_, _ = fmt.Fprintf(out, "Pass %s (%s) finished in %s: %d applied, %d skipped, %d failed\n\n",
		truncateID(p.ID), p.Trigger, p.Duration().Round(time.Millisecond),
		len(p.Succeeded), len(p.Skipped), len(p.Failed))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OUTCOME\tRULE\tTARGET\tDETAIL")
	_, _ = fmt.Fprintln(w, "-------\t----\t------\t------")
	rows := func(label string, outcomes []model.RuleOutcome, detail func(model.RuleOutcome) string) {
		for _, o := range outcomes {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", label, o.RuleName, o.Target, detail(o))
		}
	}
	rows("applied", p.Succeeded, func(o model.RuleOutcome) string { return "log " + truncateID(o.LogID) + ": " + o.Reason })
	rows("skipped", p.Skipped, func(o model.RuleOutcome) string { return o.Reason })
	rows("failed", p.Failed, func(o model.RuleOutcome) string { return o.Error })
	_ = w.Flush()

	for _, c := range p.Conflicts {
		_, _ = fmt.Fprintf(out, "conflict: %s\n", c)
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	checkCmd.Flags().Bool("json", false, "print the summary as JSON")
	rootCmd.AddCommand(checkCmd)
}
