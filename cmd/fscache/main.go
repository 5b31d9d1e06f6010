package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gophersatwork/fscache"
)

var (
	cfgPath      string
	dir          string
	algorithm    string
	fastHash     bool
	salt         string
	staleTimeout time.Duration
	logLevel     string

	rootCmd *cobra.Command
)

func main() {
	rootCmd = &cobra.Command{
		Use:   "fscache",
		Short: "Filesystem-backed artifact cache shared safely between processes",
		Long: "fscache stores verified artifacts in a directory that any number of\n" +
			"processes can share. Saves elect a single producer per key through an\n" +
			"exclusive-create lock marker; loads verify a fingerprint sidecar before\n" +
			"trusting an artifact and erase corrupt entries on sight.",
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "d", fscache.DefaultDir, "Cache directory")
	rootCmd.PersistentFlags().StringVar(&algorithm, "algorithm", string(fscache.DefaultAlgorithm), "Fingerprint algorithm (md5, sha1, sha256, sha512, xxh64)")
	rootCmd.PersistentFlags().BoolVar(&fastHash, "fast", false, "Use modification-time fingerprints instead of content")
	rootCmd.PersistentFlags().StringVar(&salt, "salt", "", "Fingerprint salt (default: $"+fscache.SaltEnv+")")
	rootCmd.PersistentFlags().DurationVar(&staleTimeout, "stale-timeout", fscache.DefaultStaleTimeout, "Age after which lock markers count as abandoned")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		saveCmd(),
		loadCmd(),
		checkCmd(),
		pathCmd(),
		rmCmd(),
		clearCmd(),
		statsCmd(),
		lsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openCache merges defaults, the config file and explicit flags, then
// constructs the cache.
func openCache() (*fscache.Cache, error) {
	cfg := defaultConfig()
	if cfgPath != "" {
		if err := cfg.loadFile(cfgPath); err != nil {
			return nil, err
		}
	}
	cfg.applyFlags(rootCmd.PersistentFlags())

	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	return fscache.New(cfg.Dir, opts...)
}

func newLogger(level string) *slog.Logger {
	lv := new(slog.LevelVar)
	switch level {
	case "debug":
		lv.Set(slog.LevelDebug)
	case "info":
		lv.Set(slog.LevelInfo)
	case "error":
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelWarn)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

func saveCmd() *cobra.Command {
	var (
		fromFile string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "save <key>",
		Short: "Store bytes under a key and print the artifact path",
		Long: "Reads bytes from stdin (or --from) and stores them as the artifact for\n" +
			"<key>. If another process is already producing the same key, save waits\n" +
			"for it and prints that producer's artifact instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			src := fscache.Reader(cmd.InOrStdin())
			if fromFile != "" {
				f, err := os.Open(fromFile)
				if err != nil {
					return err
				}
				defer f.Close()
				src = fscache.Reader(f)
			}

			var opts []fscache.SaveOption
			if timeout > 0 {
				opts = append(opts, fscache.WaitTimeout(timeout))
			}

			path, err := cache.Save(cmd.Context(), args[0], src, opts...)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&fromFile, "from", "f", "", "Read artifact bytes from a file instead of stdin")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Max wait for a concurrent producer (0 = no limit)")

	return cmd
}

func loadCmd() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "load <key>",
		Short: "Write the verified artifact for a key to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			rc, ok, err := cache.LoadStream(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no valid entry for %q", args[0])
			}
			defer rc.Close()

			out := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			_, err = io.Copy(out, rc)
			return err
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the artifact to a file instead of stdout")

	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <key>",
		Short: "Verify an entry and print its artifact path",
		Long: "Exits 0 and prints the artifact path when a complete, verified entry\n" +
			"exists. Exits 1 on a miss. A corrupt entry is erased and counts as a miss.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			path, ok, err := cache.Load(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("miss: %s", args[0])
			}
			fmt.Println(path)
			return nil
		},
	}
}

func pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path <key>",
		Short: "Print the derived entry paths without touching the filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			paths, err := cache.Paths(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Artifact: %s\n", paths.Artifact)
			fmt.Printf("Sidecar:  %s\n", paths.Sidecar)
			fmt.Printf("Lock:     %s\n", paths.Lock)
			return nil
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"remove"},
		Short:   "Delete the entry for a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			if err := cache.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Entry for %q removed\n", args[0])
			return nil
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry in the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Printf("Cache %s cleared\n", cache.Dir())
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			stats, err := cache.Stats()
			if err != nil {
				return err
			}

			fmt.Printf("Directory:  %s\n", cache.Dir())
			fmt.Printf("Algorithm:  %s\n", cache.Algorithm())
			fmt.Printf("Entries:    %d\n", stats.Entries)
			fmt.Printf("Partial:    %d\n", stats.Partial)
			fmt.Printf("Locks:      %d\n", stats.Locks)
			fmt.Printf("Total size: %s\n", formatBytes(stats.TotalSize))
			if stats.Entries > 0 || stats.Partial > 0 {
				fmt.Printf("Oldest:     %s ago\n", stats.OldestEntry.Round(time.Second))
				fmt.Printf("Newest:     %s ago\n", stats.NewestEntry.Round(time.Second))
			}
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List artifacts in the cache directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			defer cache.Close()

			entries, err := cache.Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Cache is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ARTIFACT\tSIZE\tSTATE\tMODIFIED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Path,
					formatBytes(e.Size),
					entryState(e),
					e.ModTime.Format("2006-01-02 15:04:05"),
				)
			}
			w.Flush()
			return nil
		},
	}
}

func entryState(e fscache.Entry) string {
	switch {
	case e.Locked:
		return "locked"
	case e.Complete:
		return "complete"
	default:
		return "partial"
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
