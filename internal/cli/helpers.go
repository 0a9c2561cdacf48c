package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tandem-app/tandem/internal/daemon"
	"github.com/tandem-app/tandem/internal/domain"
)

// partnerFlag and partnershipFlag are shared by the commands that act on
// behalf of one partner.
var (
	partnerFlag     string
	partnershipFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&partnerFlag, "partner", "", "Partner id (defaults to partnership.local)")
	rootCmd.PersistentFlags().StringVar(&partnershipFlag, "partnership", "", "Partnership id (defaults to partnership.id)")
}

// resolveIDs fills unset flags from config.
func resolveIDs(cfg daemon.Config) (string, string, error) {
	pid := partnershipFlag
	if pid == "" {
		pid = cfg.Partnership.ID
	}
	partner := partnerFlag
	if partner == "" {
		partner = cfg.Partnership.Local
	}
	if pid == "" {
		return "", "", fmt.Errorf("%w: set --partnership or partnership.id", domain.ErrMissingPartnership)
	}
	if partner == "" {
		return "", "", fmt.Errorf("%w: set --partner or partnership.local", domain.ErrMissingPartner)
	}
	return pid, partner, nil
}

// readSnapshot decodes a snapshot from path, or stdin when path is "-".
func readSnapshot(path string) (domain.Snapshot, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.Snapshot{}, err
		}
		defer f.Close()
		r = f
	}

	var snap domain.Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
