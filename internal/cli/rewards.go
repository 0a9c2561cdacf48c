package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tandem-app/tandem/internal/daemon"
)

func init() {
	rewardsCmd.AddCommand(redeemCmd)
	rootCmd.AddCommand(rewardsCmd)
}

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "List rewards and the points balance",
	RunE:  runRewards,
}

var redeemCmd = &cobra.Command{
	Use:   "redeem <reward-id>",
	Short: "Spend points on a reward",
	Args:  cobra.ExactArgs(1),
	RunE:  runRedeem,
}

func runRewards(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	pid, _, err := resolveIDs(d.Config)
	if err != nil {
		return err
	}
	st, err := d.Engine.State(context.Background(), pid)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tREWARD\tCOST\t")
	for _, r := range d.Rewards.Catalog() {
		mark := ""
		if r.Cost <= st.TotalPoints {
			mark = "✓"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.ID, r.Title, r.Cost, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nBalance: %d points\n", st.TotalPoints)
	return nil
}

func runRedeem(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	pid, partner, err := resolveIDs(d.Config)
	if err != nil {
		return err
	}

	red, err := d.Rewards.Redeem(context.Background(), pid, partner, args[0])
	if err != nil {
		return err
	}
	if red.Declined {
		return fmt.Errorf("not enough points: %s costs %d, balance is %d", red.RewardID, red.Cost, red.Balance)
	}
	color.Green("Redeemed %s for %d points. Balance: %d", red.RewardID, red.Cost, red.Balance)
	return nil
}
