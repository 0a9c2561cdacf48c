package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tandem-app/tandem/internal/daemon"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show points, streaks, achievements and today's challenges",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	pid, partner, err := resolveIDs(d.Config)
	if err != nil {
		return err
	}

	st, err := d.Engine.Status(context.Background(), pid, partner)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PARTNERSHIP\t%s\n", st.PartnershipID)
	fmt.Fprintf(w, "PARTNER\t%s\n", st.PartnerID)
	fmt.Fprintf(w, "POINTS\t%d (yours: %d)\n", st.TotalPoints, st.PartnerPoints)
	fmt.Fprintf(w, "STREAK\t%d day(s) together, %d yours, longest %d\n", st.Streak, st.PartnerStreak, st.LongestStreak)
	fmt.Fprintf(w, "WEEKLY GOAL\t%d/%d\n", st.WeeklyProgress, st.WeeklyGoal)
	fmt.Fprintf(w, "ACHIEVEMENTS\t%d/%d\n", len(st.Achievements), st.AchievementsTotal)
	fmt.Fprintf(w, "UNREAD\t%d\n", st.Unread)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(st.Challenges) == 0 {
		fmt.Println("\nNo challenges today. Run `tandem recompute` to roll the day.")
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHALLENGE\tTYPE\tPROGRESS\tPOINTS\tID")
	for _, c := range st.Challenges {
		progress := fmt.Sprintf("%d/%d", c.Progress, c.Target)
		if c.IsCompleted() {
			progress = "done"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.Title, c.Type, progress, c.Points, c.ID)
	}
	return w.Flush()
}
