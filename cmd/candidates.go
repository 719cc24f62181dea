package main

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/governance-engine/internal/model"
	"github.com/sells-group/governance-engine/internal/store"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Review evolution candidates",
}

var candidatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evolution candidates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.CandidateFilter{Type: model.CandidateType(strings.ToUpper(typ)), Limit: limit}
		if status != "all" {
			s, err := model.ParseCandidateStatus(status)
			if err != nil {
				return err
			}
			filter.Status = s
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		candidates, err := st.ListCandidates(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "candidates list")
		}
		if len(candidates) == 0 {
			fmt.Fprintln(os.Stderr, "No candidates found.")
			return nil
		}
		formatCandidates(os.Stdout, candidates)
		return nil
	},
}

var candidatesApproveCmd = &cobra.Command{
	Use:   "approve <candidate-id>",
	Short: "Approve a pending candidate and apply its change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Workflow.Approve(ctx, args[0], operatorName(cmd))
		if err != nil {
			return err
		}
		formatCandidates(os.Stdout, []model.EvolutionCandidate{*c})
		return nil
	},
}

var candidatesRejectCmd = &cobra.Command{
	Use:   "reject <candidate-id>",
	Short: "Reject a pending candidate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Workflow.Reject(ctx, args[0], operatorName(cmd))
		if err != nil {
			return err
		}
		formatCandidates(os.Stdout, []model.EvolutionCandidate{*c})
		return nil
	},
}

var candidatesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Scan recent signals and create candidates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		created, err := env.Scanner.Generate(ctx)
		if err != nil {
			return err
		}
		if len(created) == 0 {
			fmt.Fprintln(os.Stderr, "No new candidates.")
			return nil
		}
		formatCandidates(os.Stdout, created)
		return nil
	},
}

// operatorName returns --operator, falling back to the OS user.
func operatorName(cmd *cobra.Command) string {
	if op, _ := cmd.Flags().GetString("operator"); op != "" {
		return op
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}

func formatCandidates(out io.Writer, candidates []model.EvolutionCandidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tTARGET\tSTATUS\tEVIDENCE\tCREATED\tREASONING")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------\t--------\t-------\t---------")
	for _, c := range candidates {
		reasoning := strings.ReplaceAll(c.Reasoning, "\n", " ")
		if len(reasoning) > 60 {
			reasoning = reasoning[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(c.ID),
			c.Type,
			c.TargetID,
			c.Status,
			len(c.Impact.Evidence),
			c.CreatedAt.Format("2006-01-02 15:04"),
			reasoning,
		)
	}
	_ = w.Flush()
}

func init() {
	candidatesListCmd.Flags().String("status", "PENDING", "filter by status (PENDING, APPROVED, REJECTED, all)")
	candidatesListCmd.Flags().String("type", "", "filter by type (METADATA, PROMPT)")
	candidatesListCmd.Flags().Int("limit", 50, "max candidates to list")
	for _, c := range []*cobra.Command{candidatesApproveCmd, candidatesRejectCmd} {
		c.Flags().String("operator", "", "operator recorded as the resolver")
	}

	candidatesCmd.AddCommand(candidatesListCmd, candidatesApproveCmd, candidatesRejectCmd, candidatesGenerateCmd)
	rootCmd.AddCommand(candidatesCmd)
}
