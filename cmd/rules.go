package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and toggle policy rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policy rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		area, _ := cmd.Flags().GetString("area")
		activeOnly, _ := cmd.Flags().GetBool("active")
		filter := store.RuleFilter{Area: model.PolicyArea(strings.ToUpper(area)), ActiveOnly: activeOnly}
		if filter.Area != "" && !filter.Area.Valid() {
			return eris.Errorf("unknown area %q", area)
		}

		rules, err := st.ListRules(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "rules list")
		}
		if len(rules) == 0 {
			fmt.Fprintln(os.Stderr, "No rules found.")
			return nil
		}
		formatRules(os.Stdout, rules)
		return nil
	},
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle <id-or-name>",
	Short: "Flip a rule between active and inactive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r, err := findRule(ctx, st, args[0])
		if err != nil {
			return err
		}
		if err := st.SetRuleActive(ctx, r.ID, !r.IsActive); err != nil {
			return eris.Wrapf(err, "toggle rule %s", r.Name)
		}
		r.IsActive = !r.IsActive
		formatRules(os.Stdout, []model.PolicyRule{*r})
		return nil
	},
}

// findRule looks a rule up by id, then by name.
func findRule(ctx context.Context, st store.Store, ref string) (*model.PolicyRule, error) {
	r, err := st.GetRule(ctx, ref)
	if err == nil {
		return r, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, err
	}
	r, err = st.GetRuleByName(ctx, ref)
	if err != nil {
		return nil, eris.Wrapf(err, "rule %s", ref)
	}
	return r, nil
}

func formatRules(out io.Writer, rules []model.PolicyRule) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tAREA\tTRIGGERS\tTARGET\tVALUE\tMETHOD\tPRIORITY\tACTIVE")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t--------\t------\t-----\t------\t--------\t------")
	for _, r := range rules {
		names := make([]string, 0, len(r.Triggers))
		for _, t := range r.Triggers {
			names = append(names, t.Name)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%t\n",
			truncateID(r.ID),
			r.Name,
			r.Area,
			strings.Join(names, "+"),
			r.TargetParameter,
			r.AdjustmentValue,
			r.Method,
			r.Priority,
			r.IsActive,
		)
	}
	_ = w.Flush()
}

func init() {
	rulesListCmd.Flags().String("area", "", "filter by area (OPERATION, AI, UX)")
	rulesListCmd.Flags().Bool("active", false, "only active rules")
	rulesCmd.AddCommand(rulesListCmd, rulesToggleCmd)
	rootCmd.AddCommand(rulesCmd)
}
