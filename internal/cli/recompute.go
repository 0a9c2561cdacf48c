package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tandem-app/tandem/internal/app/engagement"
	"github.com/tandem-app/tandem/internal/daemon"
)

func init() {
	recomputeCmd.Flags().StringVar(&recomputeSnapshot, "snapshot", "", "Snapshot JSON file (\"-\" for stdin; default: last stored snapshot)")
	recomputeCmd.Flags().BoolVar(&recomputeJSON, "json", false, "Print the full result as JSON")
	rootCmd.AddCommand(recomputeCmd)
}

var (
	recomputeSnapshot string
	recomputeJSON     bool
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute engagement state once and print what changed",
	RunE:  runRecompute,
}

func runRecompute(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	pid, partner, err := resolveIDs(d.Config)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var res *engagement.RecomputeResult
	if recomputeSnapshot != "" {
		snap, err := readSnapshot(recomputeSnapshot)
		if err != nil {
			return err
		}
		res, err = d.Engine.Recompute(ctx, pid, partner, snap)
		if err != nil {
			return err
		}
	} else {
		res, err = d.Engine.RecomputeStored(ctx, pid, partner)
		if err != nil {
			return err
		}
	}

	if recomputeJSON {
		return printJSON(os.Stdout, res)
	}
	printRecompute(os.Stdout, res)
	return nil
}

var (
	unlockColor = color.New(color.FgGreen, color.Bold)
	newColor    = color.New(color.FgCyan)
	alertColor  = color.New(color.FgYellow)
)

func printRecompute(w io.Writer, res *engagement.RecomputeResult) {
	fmt.Fprintf(w, "Points: %d  Streak: %d day(s)\n", res.State.TotalPoints, res.State.Streak.CurrentStreak)
	if len(res.Recovered) > 0 {
		alertColor.Fprintf(w, "Recovered (reset to defaults): %s\n", strings.Join(res.Recovered, ", "))
	}
	for _, a := range res.Unlocked {
		unlockColor.Fprintf(w, "  + Achievement unlocked: %s (+%d)\n", a.Name, a.Points)
	}
	for _, c := range res.NewChallenges {
		newColor.Fprintf(w, "  + New challenge: %s\n", c.Title)
	}
	for _, c := range res.CompletedChallenges {
		unlockColor.Fprintf(w, "  ✓ Challenge completed: %s (+%d)\n", c.Title, c.Points)
	}
	for _, n := range res.NewNotifications {
		alertColor.Fprintf(w, "  ! %s: %s\n", n.Title, n.Body)
	}
	if len(res.Delivered) > 0 {
		fmt.Fprintf(w, "Delivered %d alert(s)\n", len(res.Delivered))
	}
}
