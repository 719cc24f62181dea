package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

var triggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: "Inspect and tune metric triggers",
}

var triggersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List triggers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		triggers, err := st.ListTriggers(ctx)
		if err != nil {
			return eris.Wrap(err, "triggers list")
		}
		if len(triggers) == 0 {
			fmt.Fprintln(os.Stderr, "No triggers found.")
			return nil
		}
		formatTriggers(os.Stdout, triggers)
		return nil
	},
}

var triggersSetThresholdCmd = &cobra.Command{
	Use:   "set-threshold <id-or-name> <value>",
	Short: "Change a trigger threshold",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return eris.Wrapf(err, "parse threshold %q", args[1])
		}
		return updateTrigger(cmd.Context(), args[0], store.TriggerUpdate{Threshold: &threshold})
	},
}

var triggersDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id-or-name>",
	Short: "Deactivate a trigger so it never fires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active := false
		return updateTrigger(cmd.Context(), args[0], store.TriggerUpdate{IsActive: &active})
	},
}

var triggersActivateCmd = &cobra.Command{
	Use:   "activate <id-or-name>",
	Short: "Reactivate a trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active := true
		return updateTrigger(cmd.Context(), args[0], store.TriggerUpdate{IsActive: &active})
	},
}

func updateTrigger(ctx context.Context, ref string, upd store.TriggerUpdate) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	t, err := findTrigger(ctx, st, ref)
	if err != nil {
		return err
	}
	updated, err := st.UpdateTrigger(ctx, t.ID, upd)
	if err != nil {
		return eris.Wrapf(err, "update trigger %s", t.Name)
	}
	formatTriggers(os.Stdout, []model.Trigger{*updated})
	return nil
}

// findTrigger looks a trigger up by id, then by name.
func findTrigger(ctx context.Context, st store.Store, ref string) (*model.Trigger, error) {
	t, err := st.GetTrigger(ctx, ref)
	if err == nil {
		return t, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, err
	}
	t, err = st.GetTriggerByName(ctx, ref)
	if err != nil {
		return nil, eris.Wrapf(err, "trigger %s", ref)
	}
	return t, nil
}

func formatTriggers(out io.Writer, triggers []model.Trigger) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCONDITION\tWINDOW\tACTIVE")
	_, _ = fmt.Fprintln(w, "--\t----\t---------\t------\t------")
	for _, t := range triggers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s %s %s\t%s\t%t\n",
			truncateID(t.ID),
			t.Name,
			t.Metric, t.Operator.Symbol(), strconv.FormatFloat(t.Threshold, 'g', -1, 64),
			t.Window(),
			t.IsActive,
		)
	}
	_ = w.Flush()
}

func init() {
	triggersCmd.AddCommand(triggersListCmd, triggersSetThresholdCmd, triggersDeactivateCmd, triggersActivateCmd)
	rootCmd.AddCommand(triggersCmd)
}
