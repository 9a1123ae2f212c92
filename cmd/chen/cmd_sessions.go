package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"chen/internal/index"
	"chen/internal/session"
	"chen/internal/transcript"
	"chen/internal/ui"

	"github.com/spf13/cobra"
)

var (
	reindexFlag   bool
	oldestFlag    bool
	exportDirFlag string
	includeTools  bool
	includeSystem bool
	searchLimit   int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse, search, and export past sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsList()
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions in chronological identifier order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsList()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session transcript as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := sessionsRoot()
		if err != nil {
			return err
		}
		store := session.NewStore(root)

		meta, err := store.Metadata(args[0])
		if err != nil {
			return err
		}
		events, err := store.Load(args[0])
		if err != nil {
			if !errors.Is(err, session.ErrCorruptSession) {
				return err
			}
			fmt.Fprintln(os.Stderr, "warning: corrupt tail, showing readable prefix")
		}

		toggles := transcript.Toggles{IncludeTools: includeTools, IncludeSystem: includeSystem}
		fmt.Printf("# %s (%d turns)\n\n", meta.ID, meta.TurnCount)
		fmt.Print(transcript.BuildMarkdown(events, toggles))
		return nil
	},
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across all session histories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openIndexer(reindexFlag)
		if err != nil {
			return err
		}
		defer idx.Close()

		if err := idx.BuildIndex(context.Background()); err != nil {
			return err
		}

		query := strings.Join(args, " ")
		hits, err := idx.ListSessions(query, searchLimit)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("no sessions matched")
			return nil
		}
		printSessionTable(hits)
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a session transcript to a markdown file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := sessionsRoot()
		if err != nil {
			return err
		}
		store := session.NewStore(root)

		meta, err := store.Metadata(args[0])
		if err != nil {
			return err
		}
		events, err := store.Load(args[0])
		if err != nil && !errors.Is(err, session.ErrCorruptSession) {
			return err
		}

		exporter, err := transcript.NewExporter(exportDirFlag)
		if err != nil {
			return err
		}
		toggles := transcript.Toggles{IncludeTools: includeTools, IncludeSystem: includeSystem}
		path, err := exporter.Export(meta, events, toggles)
		if err != nil {
			return err
		}
		fmt.Println("exported to", path)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a past session, or pick one interactively",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runResumedChat(args[0])
		}

		idx, err := openIndexer(reindexFlag)
		if err != nil {
			return err
		}
		defer idx.Close()

		root, err := sessionsRoot()
		if err != nil {
			return err
		}
		store := session.NewStore(root)
		exporter, err := transcript.NewExporter(exportDirFlag)
		if err != nil {
			return err
		}

		id, err := ui.RunPicker(idx, store, exporter)
		if err != nil {
			return err
		}
		if id == "" {
			return nil
		}
		return runResumedChat(id)
	},
}

func runSessionsList() error {
	root, err := sessionsRoot()
	if err != nil {
		return err
	}
	catalog := session.NewCatalog(session.NewStore(root))

	order := session.NewestFirst
	if oldestFlag {
		order = session.OldestFirst
	}
	metas, err := catalog.List(order)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("no sessions yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTURNS\tTITLE")
	for _, meta := range metas {
		title := meta.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			meta.ID,
			index.FormatUnix(meta.UpdatedAt.Unix()),
			meta.TurnCount,
			title,
		)
	}
	return w.Flush()
}

func printSessionTable(hits []index.Session) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTURNS\tPREVIEW")
	for _, s := range hits {
		preview := s.Preview
		if preview == "" {
			preview = s.Title
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, index.FormatUnix(s.UpdatedTS), s.TurnCount, preview)
	}
	_ = w.Flush()
}

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&reindexFlag, "reindex", false, "rebuild the search index from scratch")
	sessionsListCmd.Flags().BoolVar(&oldestFlag, "oldest", false, "list oldest sessions first")
	sessionsSearchCmd.Flags().IntVar(&searchLimit, "limit", 50, "maximum results")
	sessionsShowCmd.Flags().BoolVar(&includeTools, "tools", false, "include tool events")
	sessionsShowCmd.Flags().BoolVar(&includeSystem, "system", false, "include system events")
	sessionsExportCmd.Flags().StringVar(&exportDirFlag, "dir", "", "export directory (default ~/.chen/exports)")
	sessionsExportCmd.Flags().BoolVar(&includeTools, "tools", false, "include tool events")
	sessionsExportCmd.Flags().BoolVar(&includeSystem, "system", false, "include system events")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsSearchCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)

	resumeCmd.Flags().BoolVar(&reindexFlag, "reindex", false, "rebuild the search index from scratch")
}
