// record-recovery rebuilds missing GoSiteGuard backup records from the artifacts in object storage.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/logging"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
	"github.com/supporttools/GoSiteGuard/pkg/version"
)

var (
	dryRun  bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "record-recovery",
	Short: "Recreate backup records for artifacts found in object storage",
	Long: `record-recovery lists every object under <prefix>/backups/ in the configured bucket,
parses the backup-<YYYYMMDD-HHMMSS>-<tags>.<ext> filename convention and creates a
COMPLETED record for each artifact that has none. Existing records are never changed.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if verbose {
			level = "debug"
		}
		logging.Init(logging.Config{Level: level, Format: "console"})
	},
	RunE: runRecovery,
}

func init() {
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be recovered without writing records")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Error().Err(err).Msg("Recovery failed")
		os.Exit(1)
	}
}

func runRecovery(cmd *cobra.Command, _ []string) error {
	if err := config.LoadConfiguration(); err != nil {
		return err
	}
	cfg := config.CFG

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lister, err := newS3Lister(cfg.Storage)
	if err != nil {
		return err
	}

	store, err := metadata.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	found, err := scanArtifacts(ctx, lister, cfg.Storage)
	if err != nil {
		return err
	}
	logging.Info().Int("artifacts", len(found)).Str("bucket", cfg.Storage.Bucket).Msg("Scanned object storage")

	summary, err := recoverRecords(ctx, store, found, dryRun)
	if err != nil {
		return err
	}

	logging.Info().
		Int("recovered", summary.Recovered).
		Int("existing", summary.Existing).
		Str("recovered_size", humanize.Bytes(uint64(summary.RecoveredBytes))).
		Bool("dry_run", dryRun).
		Msg("Recovery summary")
	return nil
}
