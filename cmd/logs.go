package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/export"
	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect, export, and revert adjustment logs",
}

func logFilterFromFlags(cmd *cobra.Command) (store.LogFilter, error) {
	rule, _ := cmd.Flags().GetString("rule")
	target, _ := cmd.Flags().GetString("target")
	open, _ := cmd.Flags().GetBool("open")
	limit, _ := cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetDuration("since")

	filter := store.LogFilter{RuleID: rule, Target: target, OnlyOpen: open, Limit: limit}
	if since < 0 {
		return filter, eris.New("--since must be positive")
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}
	return filter, nil
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List adjustment logs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		filter, err := logFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		logs, err := st.ListAdjustmentLogs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "logs list")
		}
		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "No adjustment logs found.")
			return nil
		}
		formatLogs(os.Stdout, logs)
		return nil
	},
}

var logsRevertCmd = &cobra.Command{
	Use:   "revert <log-id>",
	Short: "Restore the value a logged adjustment replaced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		entry, err := env.Reverter.Revert(ctx, args[0])
		if err != nil {
			return err
		}
		formatLogs(os.Stdout, []model.AdjustmentLog{*entry})
		return nil
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export adjustment logs and current settings to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		filter, err := logFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return eris.New("--out is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		logs, err := st.ListAdjustmentLogs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "logs export")
		}
		settings, err := st.ListSettings(ctx)
		if err != nil {
			return eris.Wrap(err, "logs export: settings")
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		if err := export.Write(f, export.Workbook{Logs: logs, Settings: settings}); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", out)
		}

		zap.L().Info("exported adjustment logs",
			zap.String("file", out),
			zap.Int("logs", len(logs)),
			zap.Int("settings", len(settings)),
		)
		return nil
	},
}

func formatLogs(out io.Writer, logs []model.AdjustmentLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTARGET\tPREVIOUS\tNEW\tMETHOD\tAPPLIED\tREVERTED\tREASON")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t---\t------\t-------\t--------\t------")
	for _, l := range logs {
		prev := "<unset>"
		if l.PreviousValue != nil {
			prev = l.PreviousValue.String()
		}
		reverted := ""
		if l.RevertedAt != nil {
			reverted = l.RevertedAt.Format("2006-01-02 15:04")
		}
		reason := l.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(l.ID),
			l.TargetParameter,
			prev,
			l.NewValue,
			l.Method,
			l.AppliedAt.Format("2006-01-02 15:04"),
			reverted,
			reason,
		)
	}
	_ = w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{logsListCmd, logsExportCmd} {
		c.Flags().String("rule", "", "filter by rule id")
		c.Flags().String("target", "", "filter by target parameter")
		c.Flags().Bool("open", false, "only logs that have not been reverted")
		c.Flags().Duration("since", 0, "only logs applied within this duration (e.g. 24h)")
	}
	logsListCmd.Flags().Int("limit", 50, "max logs to list")
	logsExportCmd.Flags().Int("limit", 0, "max logs to export (0 = all)")
	logsExportCmd.Flags().String("out", "", "output xlsx path")

	logsCmd.AddCommand(logsListCmd, logsRevertCmd, logsExportCmd)
	rootCmd.AddCommand(logsCmd)
}
