package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/micahchoo/troparcel/pkg/backup"
	"github.com/micahchoo/troparcel/pkg/config"
	"github.com/micahchoo/troparcel/pkg/crdt"
	"github.com/micahchoo/troparcel/pkg/demostore"
	"github.com/micahchoo/troparcel/pkg/events"
	"github.com/micahchoo/troparcel/pkg/log"
	"github.com/micahchoo/troparcel/pkg/relay"
	"github.com/micahchoo/troparcel/pkg/store"
	"github.com/micahchoo/troparcel/pkg/syncengine"
	"github.com/micahchoo/troparcel/pkg/syncmetrics"
	"github.com/micahchoo/troparcel/pkg/vault"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "troparceld",
	Short:   "Troparcel photo-annotation sync engine",
	Long:    `Troparcel runs the CRDT sync engine that keeps photo annotations consistent across peers sharing a room, as a standalone process or linked into a host application.`,
	Version: Version,
}

var dataDir string
var useHTTPStore bool
var hostURL string
var hostToken string

// opts holds the room's sync configuration. It is seeded from
// --config (peeked eagerly below, since pkg/config's flags-over-file
// precedence needs the file loaded before cobra registers flag
// defaults from it) and then bound directly onto rootCmd's persistent
// flags, so every subcommand sees the same flags-over-file values
// cobra itself parsed.
var opts *config.Options

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("troparceld version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	opts = loadEarlyConfig()
	opts.BindFlags(rootCmd)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "path to a room config YAML file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./troparcel-data", "directory for the vault, backups, and the demo store")
	rootCmd.PersistentFlags().BoolVar(&useHTTPStore, "http-store", false, "talk to the host item store over HTTP instead of the built-in demo store")
	rootCmd.PersistentFlags().StringVar(&hostURL, "host-url", "", "base URL of the host's item store API (with --http-store)")
	rootCmd.PersistentFlags().StringVar(&hostToken, "host-token", "", "bearer token for the host's item store API (with --http-store)")

	cobra.OnInitialize(initLogging, opts.ApplyFlags)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(applyOnDemandCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadEarlyConfig peeks the --config flag out of the raw argument
// list with a throwaway flag set, ignoring every other flag and any
// parse error, so config.Load runs before rootCmd registers its real
// flags (whose defaults need to come from the loaded file).
func loadEarlyConfig() *config.Options {
	peek := pflag.NewFlagSet("peek", pflag.ContinueOnError)
	peek.ParseErrorsWhitelist.UnknownFlags = true
	peek.Usage = func() {}
	var cfgFile string
	peek.StringVar(&cfgFile, "config", "", "")
	_ = peek.Parse(os.Args[1:])

	if cfgFile == "" {
		return config.Default()
	}
	opts, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		return config.Default()
	}
	return opts
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func openAdapter() (store.Adapter, func() error, error) {
	if useHTTPStore {
		if hostURL == "" {
			return nil, nil, fmt.Errorf("--host-url is required with --http-store")
		}
		return store.NewHTTPAdapter(hostURL, hostToken), func() error { return nil }, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := demostore.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open demo store: %w", err)
	}
	return st, st.Close, nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync engine and run until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if opts.Room == "" || opts.UserID == "" || opts.ServerURL == "" {
			return fmt.Errorf("--room, --user-id, and --server-url are required")
		}

		adapter, closeAdapter, err := openAdapter()
		if err != nil {
			return err
		}
		defer closeAdapter()

		vaultPath := filepath.Join(dataDir, opts.Room+".vault.json")
		v, err := vault.Open(vaultPath)
		if err != nil {
			return err
		}

		doc := crdt.New(opts.UserID)
		relayClient := relay.New(relay.Config{ServerURL: opts.ServerURL, Room: opts.Room, RoomToken: opts.RoomToken})
		backups := backup.NewManager(dataDir, opts.Room, opts.MaxBackups)
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		engine := syncengine.New(opts, adapter, doc, v, relayClient, backups, broker)

		metricsAddr := "127.0.0.1:9191"
		go func() {
			http.Handle("/metrics", syncmetrics.Handler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		sub := broker.Subscribe()
		go func() {
			for ev := range sub {
				fmt.Printf("[%s] %s\n", ev.Type, ev.Message)
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}

		fmt.Printf("✓ Sync engine running for room %q as %q (mode %s)\n", opts.Room, opts.UserID, opts.SyncMode)
		fmt.Println("Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		engine.Stop()
		broker.Unsubscribe(sub)
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var applyOnDemandCmd = &cobra.Command{
	Use:   "apply-on-demand",
	Short: "Run a single sync cycle and apply remote changes, for review mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, closeAdapter, err := openAdapter()
		if err != nil {
			return err
		}
		defer closeAdapter()

		vaultPath := filepath.Join(dataDir, opts.Room+".vault.json")
		v, err := vault.Open(vaultPath)
		if err != nil {
			return err
		}

		doc := crdt.New(opts.UserID)
		relayClient := relay.New(relay.Config{ServerURL: opts.ServerURL, Room: opts.Room, RoomToken: opts.RoomToken})
		backups := backup.NewManager(dataDir, opts.Room, opts.MaxBackups)
		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		engine := syncengine.New(opts, adapter, doc, v, relayClient, backups, broker)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		conflicts, err := engine.ApplyOnDemand(ctx)
		if err != nil {
			return fmt.Errorf("apply on demand: %w", err)
		}

		if len(conflicts) == 0 {
			fmt.Println("✓ Applied cleanly, no conflicts")
			return nil
		}
		fmt.Printf("Applied with %d conflict(s):\n", len(conflicts))
		for _, c := range conflicts {
			fmt.Printf("  - %s %s: %s\n", c.Identity, c.Field, c.Reason)
		}
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback SNAPSHOT_PATH",
	Short: "Replay a saved backup snapshot back into the host application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapPath := args[0]
		adapter, closeAdapter, err := openAdapter()
		if err != nil {
			return err
		}
		defer closeAdapter()

		vaultPath := filepath.Join(dataDir, opts.Room+".vault.json")
		v, err := vault.Open(vaultPath)
		if err != nil {
			return err
		}

		snap, err := backup.Load(snapPath)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		conflicts, err := backup.Rollback(ctx, adapter, v, snap)
		if err != nil {
			return fmt.Errorf("rollback: %w", err)
		}

		fmt.Printf("✓ Rolled back snapshot %s\n", snapPath)
		if len(conflicts) > 0 {
			fmt.Printf("%d conflict(s) during rollback:\n", len(conflicts))
			for _, c := range conflicts {
				fmt.Printf("  - %s %s: %s\n", c.Identity, c.Field, c.Reason)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the vault's recorded sync state for a room",
	RunE: func(cmd *cobra.Command, args []string) error {
		if opts.Room == "" {
			return fmt.Errorf("--room is required")
		}

		vaultPath := filepath.Join(dataDir, opts.Room+".vault.json")
		if _, err := os.Stat(vaultPath); os.IsNotExist(err) {
			fmt.Printf("No vault found for room %q at %s (never synced)\n", opts.Room, vaultPath)
			return nil
		}

		if _, err := vault.Open(vaultPath); err != nil {
			return err
		}

		fmt.Printf("Room: %s\n", opts.Room)
		fmt.Printf("Vault: %s\n", vaultPath)

		backupDir := filepath.Join(dataDir, sanitiseRoomDirName(opts.Room))
		entries, err := os.ReadDir(backupDir)
		if err != nil {
			fmt.Println("Backups: none")
			return nil
		}
		fmt.Printf("Backups: %d snapshot(s) in %s\n", len(entries), backupDir)
		return nil
	},
}

// sanitiseRoomDirName mirrors pkg/backup's own unexported directory
// naming so this command looks in the same place backup.NewManager
// actually wrote to.
func sanitiseRoomDirName(room string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(room)
}
