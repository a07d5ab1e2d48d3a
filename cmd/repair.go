package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/LorenDorez/git-tfs/internal/config"
	"github.com/LorenDorez/git-tfs/internal/errs"
	"github.com/LorenDorez/git-tfs/internal/gitrepo"
	"github.com/LorenDorez/git-tfs/internal/notesstore"
	"github.com/LorenDorez/git-tfs/internal/reconcile"
)

func newRepairNotesCmd() *cobra.Command {
	var (
		workspaceRoot string
		remoteID      string
		targetRef     string
	)

	cmd := &cobra.Command{
		Use:   "repair-notes",
		Short: "Backfill missing notes bindings from legacy git-tfs-id trailers",
		Long: "Scans commits reachable from --target-ref for a legacy git-tfs-id trailer with no\n" +
			"corresponding notes binding and writes one from the trailer. This recovers commits\n" +
			"migrated from an older tool; it cannot recover the crash window between a TFVC\n" +
			"server accepting a check-in and the local binding write, since that commit carries\n" +
			"neither a binding nor a trailer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			cfgManager := config.New(workspaceRoot+"/.git-tfs.yaml", "", "")
			if err := cfgManager.Load(); err != nil {
				return errs.Wrap(errs.KindUnknownFatal, "load configuration", err)
			}
			cfg := cfgManager.Get()
			if cfg.Workspace.Root == "" {
				cfg.Workspace.Root = workspaceRoot
			}

			repo, err := gitrepo.Open(workspaceRoot)
			if err != nil {
				return errs.Wrap(errs.KindUnknownFatal, "open repository", err)
			}
			defer repo.Close()

			remote, err := pickRemote(cfg, remoteID)
			if err != nil {
				return err
			}
			notes := notesstore.New(repo)
			r := reconcile.New(repo, notes, slogAdapter{log})

			report, err := r.RepairNotes(&remote, targetRef)
			if err != nil {
				return errs.Wrap(errs.KindUnknownFatal, "repair notes", err)
			}

			log.Info("repair-notes complete",
				"scanned", report.Scanned,
				"already_bound", report.AlreadyBound,
				"repaired", len(report.Repaired),
				"ambiguous", len(report.Ambiguous))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&workspaceRoot, "workspace-root", ".", "path to the git repository")
	flags.StringVar(&remoteID, "remote", "default", "configured remote descriptor id to repair bindings against")
	flags.StringVar(&targetRef, "target-ref", "HEAD", "ref whose history is scanned for repairable commits")

	return cmd
}
