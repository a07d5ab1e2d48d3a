// Package cmd provides the CLI commands for the git-tfs sync engine.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LorenDorez/git-tfs/internal/errs"
)

var rootCmd = &cobra.Command{
	Use:   "git-tfs",
	Short: "git-tfs - bidirectional TFVC/git synchronization",
	Long:  `git-tfs keeps a git repository and a TFVC server in sync, binding each TFVC changeset to the git commit it materializes as.`,
}

func init() {
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newRepairNotesCmd())
}

// Execute runs the root command. On failure it prints any SyncError's
// recommendations and exits the process with the exit code the error
// taxonomy prescribes; it returns nil only on success.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		printRecommendations(err)
		os.Exit(errs.ExitCode(err))
	}
	return nil
}

func printRecommendations(err error) {
	var se *errs.SyncError
	if ok := asSyncError(err, &se); ok && len(se.Recommendations) > 0 {
		fmt.Fprintln(os.Stderr, "Recommended solutions:")
		for _, r := range se.Recommendations {
			fmt.Fprintf(os.Stderr, "  - %s\n", r)
		}
	}
}

func asSyncError(err error, target **errs.SyncError) bool {
	for err != nil {
		if se, ok := err.(*errs.SyncError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
