/*
Command blockcrack recovers the real names of domains that Mastodon instances
publish obfuscated in their federation block lists.

Instances publish each blocked domain together with the SHA-256 digest of its
real name, sometimes replacing characters of the name with '*'. blockcrack
collects the lists of a set of seed instances, folds entries that share a
digest into one record and brute-forces the masked characters until the
digest matches.

Verbs: fetch, process, crack, show, sources, config. State lives in a store
(a JSON document by default, or SQLite) that every verb loads and saves.
Interrupting a run (SIGINT, SIGTERM) cancels it cooperatively; recovered
domains are checkpointed as they are found.
*/
package main

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/x-stp/blockcrack/internal/blocklist"
	"github.com/x-stp/blockcrack/internal/client"
	"github.com/x-stp/blockcrack/internal/config"
	"github.com/x-stp/blockcrack/internal/core"
	"github.com/x-stp/blockcrack/internal/metrics"
	"github.com/x-stp/blockcrack/internal/store"
)

// Global flags (persistent across commands)
var (
	configPath  string
	dbPath      string
	namespace   string
	storeKind   string
	metricsAddr string

	// cfg is the effective configuration, resolved in PersistentPreRunE.
	cfg *config.Config
)

// Flags specific to individual commands
var (
	strict          bool
	snapshotDir     string
	fromSnapshots   string
	compressSnap    bool
	workers         int
	maxCombinations uint64
	verbose         bool
	showStats       bool
	reportFormat    string
	reportOutput    string
	noColor         bool
	unresolvedOnly  bool
)

var rootCmd = &cobra.Command{
	Use:           "blockcrack",
	Short:         "blockcrack - recover obfuscated domains from Mastodon instance block lists",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return resolveConfig(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available verbs: fetch, process, crack, show, sources, config")
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [source...]",
	Short: "Fetch block lists from the seed instances, then process them",
	Long: `Fetches /api/v1/instance/domain_blocks from every source (the arguments, or the
configured sources), stores each list and folds the entries into records.
A source that fails is logged and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(cmd.Context(), args)
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Rebuild and merge records from every stored block list",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(st store.Store) error {
			return runProcess(st)
		})
	},
}

var crackCmd = &cobra.Command{
	Use:   "crack",
	Short: "Brute-force the masked characters of every unresolved record",
	Long: `Searches every unresolved record, cheapest mask first. Each recovered domain
is saved before the next record starts. Masks whose search space exceeds
--max-combinations are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrack(cmd.Context())
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every record and the instances that block it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShow()
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured seed instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := blocklist.NormalizeSources(cfg.Sources)
		if err != nil {
			return err
		}
		for _, s := range sources {
			fmt.Println(s)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	// Persistent flags (available for all commands)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDatabase, "Store file (.json, .json.gz, or .db for SQLite)")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", store.DefaultNamespace, "Store namespace")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "Store backend: json or sqlite (default: from --db extension)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	fetchCmd.Flags().StringVar(&snapshotDir, "snapshot-dir", "", "Also write each fetched list to this directory")
	fetchCmd.Flags().BoolVar(&compressSnap, "compress", false, "Gzip snapshot files")
	fetchCmd.Flags().StringVar(&fromSnapshots, "from-snapshots", "", "Load lists from this snapshot directory instead of the network")
	fetchCmd.Flags().BoolVar(&strict, "strict", false, "Abort on the first invalid entry instead of skipping it")

	processCmd.Flags().BoolVar(&strict, "strict", false, "Abort on the first invalid entry instead of skipping it")

	crackCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Search workers (0 for one per CPU)")
	crackCmd.Flags().Uint64Var(&maxCombinations, "max-combinations", core.DefaultMaxCombinations, "Skip masks with more candidates than this")
	crackCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every mask tried and its timing")
	crackCmd.Flags().BoolVarP(&showStats, "stats", "s", false, "Show statistics during cracking")

	showCmd.Flags().StringVarP(&reportFormat, "format", "f", "text", "Output format: text or csv")
	showCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to this file instead of stdout")
	showCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	showCmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "Only show records without a known domain")

	rootCmd.AddCommand(fetchCmd, processCmd, crackCmd, showCmd, sourcesCmd, configCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Println("Interrupt received, initiating graceful shutdown...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metrics.ShutdownMetricsServer(shutdownCtx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// resolveConfig layers the config file and the explicitly set flags over the
// defaults, then starts the metrics server if requested.
func resolveConfig(cmd *cobra.Command) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.Database = dbPath
	}
	if flags.Changed("namespace") {
		c.Namespace = namespace
	}
	if flags.Changed("store") {
		c.Store = storeKind
	}
	if flags.Changed("metrics-addr") {
		c.MetricsAddr = metricsAddr
	}
	if flags.Changed("workers") {
		c.Crack.Workers = workers
	}
	if flags.Changed("max-combinations") {
		c.Crack.MaxCombinations = maxCombinations
	}
	if flags.Changed("verbose") {
		c.Crack.Verbose = verbose
	}
	if flags.Changed("snapshot-dir") {
		c.Fetch.SnapshotDir = snapshotDir
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	if cfg.MetricsAddr != "" {
		metrics.EnableMetrics()
		if err := metrics.StartMetricsServer(cfg.MetricsAddr); err != nil {
			log.Printf("Failed to start metrics server: %v", err)
		}
	}
	return nil
}

// withStore opens the configured store, runs fn and saves the store.
func withStore(fn func(st store.Store) error) error {
	st, err := store.Open(cfg.Store, cfg.Database, cfg.Namespace)
	if err != nil {
		return err
	}
	defer st.Close()

	runErr := fn(st)
	// Whatever was done before an interruption is kept.
	if err := st.Save(); err != nil {
		if runErr != nil {
			log.Printf("Failed to save store: %v", err)
			return runErr
		}
		return fmt.Errorf("failed to save store: %w", err)
	}
	return runErr
}

func runProcess(st store.Store) error {
	log.Println("Updating database")
	stats, err := core.Process(st, strict)
	if err != nil {
		return err
	}
	if stats.Mismatched > 0 {
		log.Printf("%d known domains do not hash to their published digest", stats.Mismatched)
	}
	return nil
}

func runFetch(ctx context.Context, args []string) error {
	raw := args
	if len(raw) == 0 {
		raw = cfg.Sources
	}
	sources, err := blocklist.NormalizeSources(raw)
	if err != nil {
		return err
	}

	return withStore(func(st store.Store) error {
		var lists []*blocklist.BlockList
		if fromSnapshots != "" {
			log.Printf("Loading blocklists from snapshots in %s", fromSnapshots)
			lists, err = blocklist.LoadSnapshots(fromSnapshots)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				lists = selectSources(lists, sources)
			}
		} else {
			log.Println("Loading blocklist from seed domains")
			lists = fetchLists(ctx, sources)
		}

		for _, bl := range lists {
			if err := core.PutBlockList(st, bl); err != nil {
				return err
			}
			if cfg.Fetch.SnapshotDir != "" && fromSnapshots == "" {
				path, err := blocklist.SaveSnapshot(cfg.Fetch.SnapshotDir, bl, compressSnap)
				if err != nil {
					log.Printf("Warning: %v", err)
				} else {
					log.Printf("Saved snapshot %s", path)
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return runProcess(st)
	})
}

// selectSources keeps the lists whose source is one of sources. Sources are
// compared in normalised form.
func selectSources(lists []*blocklist.BlockList, sources []string) []*blocklist.BlockList {
	want := make(map[string]bool, len(sources))
	for _, s := range sources {
		want[s] = true
	}
	var out []*blocklist.BlockList
	for _, bl := range lists {
		name, err := blocklist.NormalizeSource(bl.Source)
		if err != nil || !want[name] {
			continue
		}
		out = append(out, bl)
	}
	if len(out) < len(sources) {
		log.Printf("Snapshots cover %d of the %d requested sources", len(out), len(sources))
	}
	return out
}

// fetchLists fetches sources through the shared HTTP client and returns the
// lists that arrived.
func fetchLists(ctx context.Context, sources []string) []*blocklist.BlockList {
	fc := cfg.FetcherConfig()
	cc := client.DefaultConfig(fc.UserAgent)
	cc.RequestTimeout = fc.Timeout
	client.InitHTTPClient(cc)
	fc.Client = client.GetHTTPClient()

	var lists []*blocklist.BlockList
	failed := 0
	for _, res := range blocklist.NewFetcher(fc).FetchAll(ctx, sources) {
		if res.Err != nil {
			failed++
			continue
		}
		lists = append(lists, res.List)
	}
	log.Printf("Loaded block lists from %d/%d sources (%d failed)", len(lists), len(sources), failed)
	return lists
}

func runCrack(ctx context.Context) error {
	scheduler, err := core.NewScheduler(ctx, cfg.Crack.Workers)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	return withStore(func(st store.Store) error {
		searcher := core.NewSearcher(scheduler, cfg.Crack.MaxCombinations)
		cracker := core.NewCracker(st, searcher, cfg.Crack.Verbose)

		statsCtx, stopStats := context.WithCancel(ctx)
		var statsWg sync.WaitGroup
		if showStats {
			statsWg.Add(1)
			go func() {
				defer statsWg.Done()
				displayCrackStats(statsCtx, cracker)
			}()
		}

		_, err := cracker.Run(ctx)
		stopStats()
		statsWg.Wait()
		displayFinalCrackStats(cracker)

		if errors.Is(err, context.Canceled) {
			log.Println("Crack interrupted; recovered domains so far are saved.")
		}
		return err
	})
}

func displayCrackStats(ctx context.Context, cracker *core.Cracker) {
	ticker := time.NewTicker(time.Second * 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := cracker.GetStats()
			fmt.Printf("\rRecords: %d done, %d pending | Resolved: %d | Exhausted: %d | Infeasible: %d | Rate: %.0f hashes/s",
				stats.GetProcessed(),
				stats.GetPending(),
				stats.GetResolved(),
				stats.Exhausted.Load(),
				stats.Infeasible.Load(),
				stats.GetRate(),
			)
		case <-ctx.Done():
			fmt.Println()
			return
		}
	}
}

// displayFinalCrackStats shows the summary crack statistics.
func displayFinalCrackStats(cracker *core.Cracker) {
	stats := cracker.GetStats()
	fmt.Printf("\n--- Final Crack Statistics ---\n")
	fmt.Printf("   Processing Time: %v\n", time.Since(stats.GetStartTime()).Round(time.Millisecond))
	fmt.Printf("     Total Records: %d\n", stats.Total.Load())
	fmt.Printf("  Searched Records: %d\n", stats.GetProcessed())
	fmt.Printf("          Resolved: %d\n", stats.GetResolved())
	fmt.Printf("   Masks Exhausted: %d\n", stats.Exhausted.Load())
	fmt.Printf("  Masks Infeasible: %d\n", stats.Infeasible.Load())
	fmt.Printf("   Candidates Hashed: %d (%.0f/s)\n", stats.Tested.Load(), stats.GetRate())
	fmt.Printf("------------------------------\n")
}

func runShow() error {
	st, err := store.Open(cfg.Store, cfg.Database, cfg.Namespace)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := core.LoadRecords(st)
	if err != nil {
		return err
	}
	lists, err := core.LoadBlockLists(st)
	if err != nil {
		return err
	}
	rows := buildReport(records, lists, unresolvedOnly)

	colored := !noColor && reportOutput == ""
	return writeReport(reportOutput, reportFormat, rows, colored)
}
