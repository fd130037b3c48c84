package models

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewCommand creates a Cobra command tree for model management.
// The returned command should be added to a parent CLI's root command.
//
// Commands provided:
//   - models list
//   - models search <query> [--limit N] [--sort field]
//   - models pull <owner/name> [filename] [--with-mmproj] [--root user|custom] [--force]
//   - models remove <path>
//   - models companion assign <primary> <companion>
//   - models companion remove <primary>
//   - models companion list [--dim N]
//   - models queue
//
// Global flags: --json, --quiet, --verbose
func NewCommand(cfg Config, opts ...ManagerOption) *cobra.Command {
	var (
		jsonOutput bool
		quiet      bool
		verbose    bool
	)

	// Manager will be created in PersistentPreRunE
	var mgr Manager

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage local and hub-hosted GGUF models",
		Long:  "Search a model hub, download GGUF model files with their multimodal projection companions, and manage the local model catalog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip manager creation for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			var err error
			mgr, err = NewManager(cfg, opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize manager: %w", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if mgr != nil {
				return mgr.Close()
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	// Add subcommands
	cmd.AddCommand(listCmd(&mgr, &jsonOutput))
	cmd.AddCommand(searchCmd(&mgr, &jsonOutput))
	cmd.AddCommand(pullCmd(&mgr, &quiet, &verbose))
	cmd.AddCommand(removeCmd(&mgr, &quiet))
	cmd.AddCommand(companionCmd(&mgr, &jsonOutput, &quiet))
	cmd.AddCommand(queueCmd(&mgr, &jsonOutput))

	return cmd
}

func listCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local models",
		Long:  "List model files across all configured storage roots.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locals, err := (*mgr).ListLocal(cmd.Context())
			if err != nil {
				return err
			}
			return outputLocalModels(cmd.OutOrStdout(), locals, *jsonOutput)
		},
	}
}

func searchCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	var (
		limit int
		sort  string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the model hub",
		Long:  "Search the remote hub for models matching a query.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := (*mgr).SearchRemote(cmd.Context(), args[0], limit, sort)
			if err != nil {
				return err
			}
			return outputRemoteModels(cmd.OutOrStdout(), results, *jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	cmd.Flags().StringVar(&sort, "sort", "", "Sort field (downloads, likes, lastModified)")
	return cmd
}

func pullCmd(mgr *Manager, quiet, verbose *bool) *cobra.Command {
	var (
		withMmproj bool
		rootName   string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "pull <owner/name> [filename]",
		Short: "Download a model file",
		Long: "Download a model file from the hub into a storage root. Without a filename " +
			"the most suitable file is selected automatically. With --with-mmproj the matching " +
			"multimodal projection companion is downloaded too.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			repoID, err := ParseRepoID(args[0])
			if err != nil {
				return err
			}

			model, err := resolveRemoteModel(ctx, *mgr, repoID)
			if err != nil {
				return err
			}

			if *verbose {
				for _, f := range RankFilesForDownload(model.Files) {
					if q := QuantizationOf(f.Name); q != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s  %s\n", f.Name, q, formatSize(f.Size))
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", f.Name, formatSize(f.Size))
					}
				}
			}

			var filename string
			if len(args) == 2 {
				filename = args[1]
			} else {
				ranked := RankFilesForDownload(model.Files)
				if len(ranked) == 0 {
					return fmt.Errorf("%s: %w", repoID, ErrFileNotFound)
				}
				filename = ranked[0].Name
				if !*quiet {
					if q := QuantizationOf(filename); q != "" {
						fmt.Fprintf(cmd.OutOrStdout(), "Selected %s (%s)\n", filename, q)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "Selected %s\n", filename)
					}
				}
			}

			var opts []DownloadOption
			if rootName != "" {
				opts = append(opts, WithTargetRoot(Origin(rootName)))
			}
			if force {
				opts = append(opts, WithOverwrite())
			}

			var stopProgress func()
			if !*quiet {
				stopProgress = renderTransferProgress(cmd.OutOrStdout(), *mgr)
				defer stopProgress()
			}

			if withMmproj {
				res, err := (*mgr).DownloadWithDependencies(ctx, model, filename, opts...)
				if err != nil {
					return reportPullError(cmd.OutOrStdout(), err, *quiet)
				}
				if stopProgress != nil {
					stopProgress()
				}
				if !*quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s\n", res.PrimaryPath)
					switch {
					case res.CompanionPath != "":
						fmt.Fprintf(cmd.OutOrStdout(), "Companion %s\n", res.CompanionPath)
					case res.CompanionQueued:
						fmt.Fprintln(cmd.OutOrStdout(), "Companion download was rate-limited and queued for retry")
					case res.CompanionErr != nil:
						fmt.Fprintf(cmd.OutOrStdout(), "Companion download failed: %v (primary is usable standalone)\n", res.CompanionErr)
					}
				}
				return nil
			}

			path, err := (*mgr).Download(ctx, repoID, filename, opts...)
			if err != nil {
				return reportPullError(cmd.OutOrStdout(), err, *quiet)
			}
			if stopProgress != nil {
				stopProgress()
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withMmproj, "with-mmproj", false, "Also download the matching projection companion")
	cmd.Flags().StringVar(&rootName, "root", "", "Target storage root (user or custom)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing local file")
	return cmd
}

// reportPullError turns ErrAlreadyExists into a friendly non-error outcome
// and passes everything else through.
func reportPullError(w io.Writer, err error, quiet bool) error {
	if errors.Is(err, ErrAlreadyExists) {
		if !quiet {
			fmt.Fprintln(w, "Already downloaded (use --force to re-download)")
		}
		return nil
	}
	return err
}

// resolveRemoteModel finds the hub descriptor for an exact repository id.
func resolveRemoteModel(ctx context.Context, mgr Manager, repoID string) (RemoteModel, error) {
	results, err := mgr.SearchRemote(ctx, repoID, 0, "")
	if err != nil {
		return RemoteModel{}, err
	}
	for _, m := range results {
		if m.ID == repoID {
			return m, nil
		}
	}
	return RemoteModel{}, fmt.Errorf("%s: %w", repoID, ErrModelNotFound)
}

func removeCmd(mgr *Manager, quiet *bool) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove a local model",
		Long:  "Remove a model file from a writable storage root. Companion assignments referencing it are pruned.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			// Confirmation prompt
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Remove %s? [y/N]: ", path)
				if !confirmPrompt(cmd.InOrStdin()) {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			if err := (*mgr).DeleteLocal(cmd.Context(), path); err != nil {
				return err
			}

			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func companionCmd(mgr *Manager, jsonOutput *bool, quiet *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companion",
		Short: "Manage projection companion assignments",
		Long:  "Assign, remove, and list multimodal projection companion files for local models.",
	}

	assign := &cobra.Command{
		Use:   "assign <primary> <companion>",
		Short: "Assign a companion to a model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*mgr).AssignCompanion(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s -> %s\n", args[0], args[1])
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <primary>",
		Short: "Remove a model's companion assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*mgr).RemoveCompanionAssignment(cmd.Context(), args[0]); err != nil {
				return err
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed assignment for %s\n", args[0])
			}
			return nil
		},
	}

	var dim int
	list := &cobra.Command{
		Use:   "list",
		Short: "List available companion files",
		Long:  "List companion (projection) files across all storage roots, with compatibility against --dim when given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := (*mgr).ListCompanionFiles(cmd.Context(), dim)
			if err != nil {
				return err
			}
			return outputCompanionFiles(cmd.OutOrStdout(), files, *jsonOutput)
		},
	}
	list.Flags().IntVar(&dim, "dim", 0, "Reference embedding dimension for compatibility checks")

	cmd.AddCommand(assign, remove, list)
	return cmd
}

func queueCmd(mgr *Manager, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show pending retry-queue entries",
		Long:  "Show downloads waiting in the rate-limit retry queue.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := (*mgr).QueueSnapshot()
			return outputQueue(cmd.OutOrStdout(), entries, *jsonOutput)
		},
	}
}

// confirmPrompt reads from stdin and returns true only if the user types 'y' or 'yes'.
// Returns false for empty input or any other response (default is no).
func confirmPrompt(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		response := strings.TrimSpace(strings.ToLower(scanner.Text()))
		return response == "y" || response == "yes"
	}
	return false
}

// renderTransferProgress subscribes to progress events and keeps a single
// status line updated until the returned stop func is called.
func renderTransferProgress(w io.Writer, mgr Manager) func() {
	events, cancel := mgr.SubscribeProgress()

	var mu sync.Mutex
	var rendered bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		for p := range events {
			mu.Lock()
			rendered = true
			if p.BytesTotal > 0 {
				fmt.Fprintf(w, "\r\x1b[K%s  %s / %s (%.0f%%)",
					p.Filename, formatSize(p.BytesDownloaded), formatSize(p.BytesTotal), p.Percent)
			} else {
				fmt.Fprintf(w, "\r\x1b[K%s  %s", p.Filename, formatSize(p.BytesDownloaded))
			}
			mu.Unlock()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			mu.Lock()
			if rendered {
				fmt.Fprintln(w)
			}
			mu.Unlock()
		})
	}
}

// Output helpers

func outputLocalModels(w io.Writer, locals []LocalModel, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(locals)
	}

	if len(locals) == 0 {
		fmt.Fprintln(w, "No local models")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tORIGIN\tVISION\tDIM\tCOMPANION")
	for _, m := range locals {
		dim := "-"
		if m.EmbeddingDim > 0 {
			dim = fmt.Sprintf("%d", m.EmbeddingDim)
		}
		companion := "-"
		if m.CompanionPath != "" {
			companion = m.CompanionPath
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\n",
			m.Name, formatSize(m.Size), m.Origin, m.Vision, dim, companion)
	}
	return tw.Flush()
}

func outputRemoteModels(w io.Writer, results []RemoteModel, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No models found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tDOWNLOADS\tLIKES\tVISION\tFILES")
	for _, m := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%d\n",
			m.ID, m.Downloads, m.Likes, IsVisionCapable(m), len(m.Files))
	}
	return tw.Flush()
}

func outputCompanionFiles(w io.Writer, files []CompanionFile, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(files)
	}

	if len(files) == 0 {
		fmt.Fprintln(w, "No companion files found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tORIGIN\tDIM\tCOMPATIBILITY")
	for _, f := range files {
		dim := "-"
		if f.EmbeddingDim > 0 {
			dim = fmt.Sprintf("%d", f.EmbeddingDim)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			f.Name, formatSize(f.Size), f.Origin, dim, f.Compatibility.State)
	}
	return tw.Flush()
}

func outputQueue(w io.Writer, entries []QueuedDownload, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "Queue is empty")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tREPO\tATTEMPTS\tNEXT ATTEMPT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			e.Filename, e.RepoID, e.Attempts, e.NextAttempt.Format("15:04:05"))
	}
	return tw.Flush()
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
