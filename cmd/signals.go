package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Record and inspect feedback signals and metric samples",
}

var signalsRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one feedback signal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		target, _ := cmd.Flags().GetString("target")
		typ, _ := cmd.Flags().GetString("type")
		score, _ := cmd.Flags().GetFloat64("score")
		query, _ := cmd.Flags().GetString("query")
		if target == "" {
			return eris.New("--target is required")
		}
		sig := model.Signal{
			TargetID:     target,
			Type:         model.SignalType(strings.ToUpper(typ)),
			Score:        score,
			NaturalQuery: query,
		}
		if sig.Type != model.SignalTrustScore && sig.Type != model.SignalError {
			return eris.Errorf("unknown signal type %q", typ)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.RecordSignal(ctx, &sig); err != nil {
			return eris.Wrap(err, "signals record")
		}
		formatSignals(os.Stdout, []model.Signal{sig})
		return nil
	},
}

var signalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent feedback signals",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		target, _ := cmd.Flags().GetString("target")
		typ, _ := cmd.Flags().GetString("type")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.SignalFilter{
			TargetID: target,
			Type:     model.SignalType(strings.ToUpper(typ)),
			Limit:    limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		signals, err := st.ListSignals(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "signals list")
		}
		if len(signals) == 0 {
			fmt.Fprintln(os.Stderr, "No signals found.")
			return nil
		}
		formatSignals(os.Stdout, signals)
		return nil
	},
}

// sampleRow is one CSV row for samples import.
type sampleRow struct {
	Metric     string    `csv:"metric"`
	Value      float64   `csv:"value"`
	RecordedAt time.Time `csv:"recorded_at,omitempty"`
}

var signalsImportSamplesCmd = &cobra.Command{
	Use:   "import-samples <file.csv>",
	Short: "Load metric samples from a CSV with metric,value,recorded_at columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		samples, err := parseSamplesCSV(data, time.Now())
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.RecordSamples(ctx, samples)
		if err != nil {
			return eris.Wrap(err, "signals import-samples")
		}
		zap.L().Info("imported metric samples", zap.String("file", args[0]), zap.Int64("samples", n))
		return nil
	},
}

// parseSamplesCSV decodes sample rows. Rows without recorded_at are stamped now.
func parseSamplesCSV(data []byte, now time.Time) ([]model.MetricSample, error) {
	var rows []sampleRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrap(err, "parse samples csv")
	}

	samples := make([]model.MetricSample, 0, len(rows))
	for i, r := range rows {
		if r.Metric == "" {
			return nil, eris.Errorf("parse samples csv: row %d: metric is required", i+1)
		}
		at := r.RecordedAt
		if at.IsZero() {
			at = now
		}
		samples = append(samples, model.MetricSample{Metric: r.Metric, Value: r.Value, RecordedAt: at.UTC()})
	}
	return samples, nil
}

func formatSignals(out io.Writer, signals []model.Signal) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTARGET\tTYPE\tSCORE\tCREATED\tQUERY")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t-----\t-------\t-----")
	for _, s := range signals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
			truncateID(s.ID),
			s.TargetID,
			s.Type,
			s.Score,
			s.CreatedAt.Format("2006-01-02 15:04"),
			s.NaturalQuery,
		)
	}
	_ = w.Flush()
}

func init() {
	signalsRecordCmd.Flags().String("target", "", "target id (data source or prompt)")
	signalsRecordCmd.Flags().String("type", string(model.SignalTrustScore), "signal type (TRUST_SCORE, ERROR_SIGNAL)")
	signalsRecordCmd.Flags().Float64("score", 0, "signal score")
	signalsRecordCmd.Flags().String("query", "", "natural-language query that produced the signal")

	signalsListCmd.Flags().String("target", "", "filter by target id")
	signalsListCmd.Flags().String("type", "", "filter by signal type")
	signalsListCmd.Flags().Duration("since", 24*time.Hour, "only signals within this duration")
	signalsListCmd.Flags().Int("limit", 50, "max signals to list")

	signalsCmd.AddCommand(signalsRecordCmd, signalsListCmd, signalsImportSamplesCmd)
	rootCmd.AddCommand(signalsCmd)
}
