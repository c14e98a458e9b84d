package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashureev/tennis-onboard/internal/identity"
)

var (
	sessionsLimit int
	sessionsAll   bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions from the archive",
	RunE:  runSessionsList,
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of sessions to list")
	sessionsListCmd.Flags().BoolVar(&sessionsAll, "all", false, "List sessions of every identity, not only the CLI's")
	sessionsCmd.AddCommand(sessionsListCmd)
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	deps, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer deps.Close()

	if deps.Archive == nil {
		return fmt.Errorf("session archive is not available (ARCHIVE_DRIVER=%s)", deps.Config.Archive.Driver)
	}

	owner := identity.CLIUserID()
	if sessionsAll {
		owner = ""
	}
	entries, err := deps.Archive.List(cmd.Context(), owner, sessionsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SAVED\tROLE\tLANG\tSTAGE\tTURNS\tFILE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.SavedAt.Local().Format("2006-01-02 15:04"),
			e.RoleKind,
			e.Language,
			e.Stage,
			e.Turns,
			filepath.Base(e.Path))
	}
	return w.Flush()
}
