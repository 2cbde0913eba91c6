package main

import (
	"fmt"
	"os"
	"strings"

	"mediasync/internal/app"
	"mediasync/internal/config"
	"mediasync/internal/core"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Sync", "Audit").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "mediasync",
	Short: "Media library sync client",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name, err = os.Hostname()
			if err != nil {
				return fmt.Errorf("determining device name: %w", err)
			}
		}

		cfg := config.NewConfig(name, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device Name: %s\n", name)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		fmt.Println("Set gateway.url and gateway.owner_id, then run: mediasync login")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device Name:  %s\n", cfg.DeviceName)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Gateway:      %s (owner %s)\n", cfg.Gateway.URL, cfg.Gateway.OwnerID)
		fmt.Printf("Database:     %s\n", cfg.Database.Type)
		fmt.Printf("Object Store: %s\n", cfg.ObjectStore.Type)
		return nil
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Register this device with the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		manual, _ := cmd.Flags().GetBool("token")

		a, err := newApp(cmd, "Login")
		if err != nil {
			return err
		}
		defer a.Close()

		if manual {
			fmt.Fprint(os.Stderr, "Token: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			if err := a.StoreToken(strings.TrimSpace(string(raw))); err != nil {
				return err
			}
			fmt.Println("Token stored.")
			return nil
		}

		if err := a.Login(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Device registered.")
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Add local files to the library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ImportFile")
		if err != nil {
			return err
		}
		defer a.Close()

		for _, path := range args {
			asset, err := a.ImportFile(path)
			if err != nil {
				return fmt.Errorf("importing %s: %w", path, err)
			}
			fmt.Printf("%s  %s\n", asset.ID[:12], asset.Name)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Pulled %d, uploaded %d, pushed %d (checkpoint %d)\n",
			result.Pulled, result.Uploaded, result.Pushed, result.Timestamp)
		return nil
	},
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check library consistency",
	RunE: func(cmd *cobra.Command, args []string) error {
		download, _ := cmd.Flags().GetBool("download")
		reupload, _ := cmd.Flags().GetBool("reupload")
		retention, _ := cmd.Flags().GetBool("retention")

		a, err := newApp(cmd, "Audit")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Audit(cmd.Context(), core.AuditOptions{
			DownloadMissing:  download,
			Reupload:         reupload,
			EnforceRetention: retention,
		})
		if err != nil {
			return fmt.Errorf("audit failed: %w", err)
		}

		printReport(report)
		return nil
	},
}

func printReport(report *core.Report) {
	fmt.Printf("Issues: %d total, %d fixed, %d pending\n",
		report.TotalIssues, report.FixedIssues, report.PendingIssues)

	for _, f := range report.Findings {
		state := "missing remote"
		if f.RemoteExists {
			state = "missing local"
		}
		repair := ""
		if f.Repairable {
			repair = "  [repairable]"
		}
		fmt.Printf("  %s  %s%s\n", f.AssetID[:12], state, repair)
	}

	if report.Orphans != nil && len(report.Orphans.Orphans) > 0 {
		fmt.Printf("Orphan objects: %d of %d remote\n",
			len(report.Orphans.Orphans), report.Orphans.TotalRemote)
	}
	if report.CloudMissing != nil && len(report.CloudMissing.Missing) > 0 {
		fmt.Printf("Cloud records with missing objects: %d\n", len(report.CloudMissing.Missing))
	}
	if report.Diff != nil {
		fmt.Printf("Unsynced: %d local-only, %d cloud-only\n",
			len(report.Diff.OnlyLocal), len(report.Diff.OnlyCloud))
	}

	for _, c := range report.Conflicts {
		fmt.Printf("  conflict %s  %s  -> %s (%s)\n", c.AssetID[:12], c.Class, c.Recommendation, c.Reason)
	}
	for _, r := range report.Repairs {
		fmt.Printf("  repair %s: %d ok, %d failed, %d skipped\n", r.Type, r.Succeeded, r.Failed, r.Skipped)
	}
	for _, e := range report.StepErrors {
		fmt.Printf("  step error: %s\n", e)
	}
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Settle detected conflicts",
	Long: `Detects conflicts between the local and cloud record sets and applies
resolutions. Without flags every conflict gets its recommended resolution;
--asset and --choice override the resolution for one asset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		assetID, _ := cmd.Flags().GetString("asset")
		choice, _ := cmd.Flags().GetString("choice")

		a, err := newApp(cmd, "ResolveConflicts")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Audit(cmd.Context(), core.AuditOptions{})
		if err != nil {
			return fmt.Errorf("detecting conflicts: %w", err)
		}
		if len(report.Conflicts) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}

		choices := map[string]core.Resolution{}
		if assetID != "" {
			if choice == "" {
				return fmt.Errorf("--asset requires --choice")
			}
			choices[assetID] = core.Resolution(choice)
		}

		result := a.ResolveConflicts(report.Conflicts, choices)
		fmt.Printf("Resolved %d conflict(s)\n", result.Applied)
		for id, err := range result.Failed {
			fmt.Printf("  %s: %v\n", id[:12], err)
		}
		return nil
	},
}

// orphans command
var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List stored objects no record references",
	RunE: func(cmd *cobra.Command, args []string) error {
		cleanup, _ := cmd.Flags().GetBool("cleanup")

		a, err := newApp(cmd, "Orphans")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Orphans(cmd.Context())
		if err != nil {
			return fmt.Errorf("orphan scan failed: %w", err)
		}

		if len(report.Orphans) == 0 {
			fmt.Println("No orphan objects.")
			return nil
		}

		var keys []string
		for _, o := range report.Orphans {
			fmt.Printf("%s  %d bytes\n", o.Key, o.Size)
			keys = append(keys, o.Key)
		}
		fmt.Printf("%d orphan(s), %d referenced, %d remote total\n",
			len(keys), report.TotalReferenced, report.TotalRemote)

		if cleanup {
			result := a.CleanupOrphans(cmd.Context(), keys)
			fmt.Printf("Deleted %d, failed %d\n", result.Deleted, result.Failed)
		}
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete ASSET_ID",
	Short: "Delete an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hard, _ := cmd.Flags().GetBool("hard")

		a, err := newApp(cmd, "Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(cmd.Context(), args[0], hard); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		if hard {
			fmt.Println("Asset purged.")
		} else {
			fmt.Println("Asset deleted. It is purged after the retention window.")
		}
		return nil
	},
}

// retention command
var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Purge soft-deleted assets past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "EnforceRetention")
		if err != nil {
			return err
		}
		defer a.Close()

		purged, err := a.EnforceRetention(cmd.Context())
		if err != nil {
			return fmt.Errorf("retention failed: %w", err)
		}
		fmt.Printf("Purged %d asset(s)\n", purged)
		return nil
	},
}

// health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the library health score",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Health")
		if err != nil {
			return err
		}
		defer a.Close()

		score, err := a.Health()
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		fmt.Printf("Health: %d/100 (%s)\n", score.Score, score.Grade)
		fmt.Printf("Assets: %d total, %d healthy\n", score.TotalAssets, score.HealthyAssets)
		if score.MissingObject > 0 {
			fmt.Printf("  missing object: %d\n", score.MissingObject)
		}
		if score.MissingLocal > 0 {
			fmt.Printf("  missing local file: %d\n", score.MissingLocal)
		}
		if score.NotSynced > 0 {
			fmt.Printf("  not synced: %d\n", score.NotSynced)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("name", "", "Device name (defaults to hostname)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().Bool("token", false, "Enter a pre-issued token instead of registering")
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().Bool("download", false, "Download assets missing locally")
	auditCmd.Flags().Bool("reupload", false, "Reupload repairable missing objects")
	auditCmd.Flags().Bool("retention", false, "Purge soft-deleted assets past retention")
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().String("asset", "", "Asset id to resolve")
	resolveCmd.Flags().String("choice", "", "Resolution: use_cloud, use_local, merge")
	rootCmd.AddCommand(orphansCmd)
	orphansCmd.Flags().Bool("cleanup", false, "Delete the orphaned objects")
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().Bool("hard", false, "Purge the record immediately")
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(healthCmd)
}
