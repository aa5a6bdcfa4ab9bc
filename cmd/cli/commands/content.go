package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/samizdat-net/samizdat/pkg/types"
	"github.com/spf13/cobra"
)

var (
	publishOrigin       string
	publishSignificance string
	publishEducational  string
	requestPeer         string
	requestOutput       string
	syncScope           string
)

// NewContentCmd creates the content command group.
func NewContentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Publish, fetch, and sync content",
		Long: `Publish files into the network, fetch content by hash, and run
synchronization rounds. Requires daemon.

Cultural metadata attached at publish time is informational only. It can
raise replication for significant material, it can never restrict who
may read it.`,
	}

	publish := &cobra.Command{
		Use:   "publish [file]",
		Short: "Publish a file and print its content hash",
		Args:  cobra.ExactArgs(1),
		RunE:  runContentPublish,
	}
	publish.Flags().StringVar(&publishOrigin, "origin", "", "Cultural origin of the content (informational)")
	publish.Flags().StringVar(&publishSignificance, "significance", "", "Cultural significance: general, notable, vital")
	publish.Flags().StringVar(&publishEducational, "context", "", "Educational context shown alongside the content")

	get := &cobra.Command{
		Use:   "get [hash]",
		Short: "Fetch content by hash",
		Args:  cobra.ExactArgs(1),
		RunE:  runContentGet,
	}
	get.Flags().StringVar(&requestPeer, "peer", "", "Prefer this peer as the provider")
	get.Flags().StringVarP(&requestOutput, "file", "F", "", "Write content to this file instead of stdout")

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Run one content synchronization round",
		RunE:  runContentSync,
	}
	sync.Flags().StringVar(&syncScope, "scope", "", "Limit the sync round to one scope")

	cmd.AddCommand(publish)
	cmd.AddCommand(get)
	cmd.AddCommand(sync)

	return cmd
}

func runContentPublish(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var cultural *types.CulturalContext
	if publishOrigin != "" || publishSignificance != "" || publishEducational != "" {
		cultural = &types.CulturalContext{
			Origin:             publishOrigin,
			Significance:       types.Significance(publishSignificance),
			EducationalContext: publishEducational,
		}
	}

	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var hash types.ContentHash
	err = WithSpinner("Publishing", func() error {
		h, err := c.ContentPublish(data, cultural)
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	Success("Published")
	fmt.Println(hash.String())
	return nil
}

func runContentGet(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var content *types.Content
	err = WithSpinner(fmt.Sprintf("Fetching %s", FormatHash(args[0])), func() error {
		result, err := c.ContentRequest(args[0], requestPeer)
		if err != nil {
			return err
		}
		content = result
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	if content.Providers == 0 && len(content.Data) == 0 {
		Warning("No providers currently hold this content. It may reappear as peers come online.")
		return nil
	}

	if requestOutput != "" {
		if err := os.WriteFile(requestOutput, content.Data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", requestOutput, err)
		}
		Success(fmt.Sprintf("Wrote %d bytes to %s", len(content.Data), requestOutput))
	} else {
		if _, err := os.Stdout.Write(content.Data); err != nil {
			return err
		}
	}

	if content.Context != nil && content.Context.EducationalContext != "" && requestOutput != "" {
		fmt.Println(Hint("Context: " + content.Context.EducationalContext))
	}

	return nil
}

func runContentSync(cmd *cobra.Command, args []string) error {
	c, err := GetClient()
	if err != nil {
		return err
	}
	defer c.Close()

	var req *types.SyncRequest
	if syncScope != "" {
		req = &types.SyncRequest{Scope: syncScope}
	}

	err = WithSpinner("Synchronizing", func() error {
		return c.ContentSync(req)
	})
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	Success("Sync round complete")
	return nil
}

// marshalIndent is a small helper for --output json paths.
func marshalIndent(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
