package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/governance-engine/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create triggers, rules, and settings from a YAML seed",
	Long:  "Loads --file, or the built-in default policy set when no file is given. Existing triggers and rules are matched by name and left alone.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		overwrite, _ := cmd.Flags().GetBool("overwrite-settings")

		var (
			f   *seed.File
			err error
		)
		if path == "" {
			f, err = seed.Default()
		} else {
			f, err = seed.Load(path)
		}
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := seed.Apply(ctx, st, f, overwrite)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "triggers created: %d\nrules created: %d (skipped %d)\nsettings written: %d\n",
			res.TriggersCreated, res.RulesCreated, res.RulesSkipped, res.SettingsWritten)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("file", "", "seed YAML (default: built-in policy set)")
	seedCmd.Flags().Bool("overwrite-settings", false, "overwrite settings that already exist")
	rootCmd.AddCommand(seedCmd)
}
