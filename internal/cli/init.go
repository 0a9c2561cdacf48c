package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tandem-app/tandem/internal/daemon"
)

func init() {
	initCmd.Flags().StringSliceVar(&initPartners, "partners", nil, "Both partner ids, comma separated")
	initCmd.Flags().StringVar(&initBackend, "store", daemon.BackendSQLite, "State store backend (sqlite, redis, postgres, memory)")
	rootCmd.AddCommand(initCmd)
}

var (
	initPartners []string
	initBackend  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file for this device",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := daemon.DefaultConfig()
	cfg.Partnership.ID = partnershipFlag
	cfg.Partnership.Local = partnerFlag
	cfg.Partnership.Partners = initPartners
	cfg.Store.Backend = initBackend

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := daemon.SaveConfig(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Wrote %s\n", filepath.Join(daemon.TandemHome(), "config.toml"))
	return nil
}
