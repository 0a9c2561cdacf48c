package cli

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tandem-app/tandem/internal/daemon"
)

func init() {
	rootCmd.AddCommand(completeCmd)
}

var completeCmd = &cobra.Command{
	Use:   "complete <challenge-id>",
	Short: "Mark a self-reported daily challenge as done",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	pid, partner, err := resolveIDs(d.Config)
	if err != nil {
		return err
	}

	points, err := d.Engine.CompleteChallenge(context.Background(), pid, partner, args[0])
	if err != nil {
		return err
	}
	color.Green("Challenge complete! +%d points", points)
	return nil
}
