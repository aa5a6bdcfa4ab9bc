package commands

import (
	"fmt"

	"github.com/samizdat-net/samizdat/pkg/types"
	"github.com/spf13/cobra"
)

var (
	joinIntroduction string
	joinInterests    []string
)

// NewCommunityCmd creates the community command group.
func NewCommunityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "community",
		Short: "Community network participation",
		Long: `Discover, join, and share with community information networks.

Communities share protocols and educational context. Joining one never
grants the power to block anyone else's access to content; the network
has no such capability.`,
		RunE: runCommunityList,
	}

	join := &cobra.Command{
		Use:   "join [network-id]",
		Short: "Join a community network",
		Args:  cobra.ExactArgs(1),
		RunE:  runCommunityJoin,
	}
	join.Flags().StringVar(&joinIntroduction, "introduction", "", "A short introduction for the community")
	join.Flags().StringSliceVar(&joinInterests, "interests", nil, "Shared interests to include in the request")

	cmd.AddCommand(join)
	cmd.AddCommand(&cobra.Command{
		Use:   "leave [network-id]",
		Short: "Leave a community network",
		Args:  cobra.ExactArgs(1),
		RunE:  runCommunityLeave,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "share [hash] [network-id]",
		Short: "Share published content with a community",
		Args:  cobra.ExactArgs(2),
		RunE:  runCommunityShare,
	})

	return cmd
}

func runCommunityList(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	networks, err := c.CommunityList()
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	if OutputFormat == "json" {
		out, err := marshalIndent(networks)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	joined := make(map[string]bool, len(networks.Joined))
	for _, p := range networks.Joined {
		joined[p.NetworkID] = true
	}

	if len(networks.Networks) == 0 {
		Info("No community networks discovered yet.")
		return nil
	}

	headers := []string{"ID", "Name", "Members", "Joined"}
	var rows [][]string
	for _, n := range networks.Networks {
		mark := ""
		if joined[n.ID] {
			mark = "yes"
		}
		rows = append(rows, []string{
			n.ID,
			n.Name,
			fmt.Sprintf("%d", n.MemberCount),
			mark,
		})
	}

	fmt.Println(RenderTable(headers, rows))
	fmt.Println(StyleMuted.Render(fmt.Sprintf("  %d network(s), %d joined", len(networks.Networks), len(networks.Joined))))

	return nil
}

func runCommunityJoin(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	req := &types.JoinRequest{
		NetworkID:       args[0],
		Introduction:    joinIntroduction,
		SharedInterests: joinInterests,
	}

	participation, err := c.CommunityJoin(req)
	if err != nil {
		return fmt.Errorf("join failed: %w", err)
	}

	Success(fmt.Sprintf("Joined %s", participation.NetworkID))
	return nil
}

func runCommunityLeave(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.CommunityLeave(args[0]); err != nil {
		return fmt.Errorf("leave failed: %w", err)
	}

	Success(fmt.Sprintf("Left %s", args[0]))
	return nil
}

func runCommunityShare(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.CommunityShare(args[0], args[1]); err != nil {
		return fmt.Errorf("share failed: %w", err)
	}

	Success(fmt.Sprintf("Shared %s with %s", FormatHash(args[0]), args[1]))
	return nil
}
