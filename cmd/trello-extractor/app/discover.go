package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/internal/event"
	"github.com/stacklok/trello-extractor/internal/syncunits"
	"github.com/stacklok/trello-extractor/internal/trello"
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the boards of an organization as sync units",
		Long: `List the boards of a Trello organization together with their card counts,
exactly as the extractor reports them for sync unit discovery.

A count of -1 means the board's cards could not be counted.`,
		Args: cobra.NoArgs,
		RunE: runDiscover,
	}

	cmd.Flags().String("org", "", "Trello organization id (required)")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, optional)")
	cmd.Flags().String("format", "", "Output format (table or json)")
	if err := cmd.MarkFlagRequired("org"); err != nil {
		panic(err)
	}
	return cmd
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	orgID, err := cmd.Flags().GetString("org")
	if err != nil {
		return fmt.Errorf("failed to get org flag: %w", err)
	}
	cfg, err := loadOptionalConfig(cmd)
	if err != nil {
		return err
	}
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	key, err := readConnectionKey(cmd)
	if err != nil {
		return err
	}
	creds, err := trello.ParseConnectionKey(key)
	if err != nil {
		return err
	}

	client := trello.NewClient(cfg.Trello.GetBaseURL(), creds, cfg.Trello.GetTimeout())
	units, err := syncunits.NewDiscoverer(client).Discover(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to discover sync units: %w", err)
	}

	return renderSyncUnits(cmd.OutOrStdout(), units, format)
}

// renderSyncUnits writes units as a table or as a JSON array
func renderSyncUnits(w io.Writer, units []event.ExternalSyncUnit, format string) error {
	if format == formatJSON {
		if units == nil {
			units = []event.ExternalSyncUnit{}
		}
		out, err := json.MarshalIndent(units, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode sync units: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Items", "Type")
	for _, u := range units {
		count := strconv.Itoa(u.ItemCount)
		if u.ItemCount == syncunits.UnknownCount {
			count = "unknown"
		}
		if err := table.Append([]string{u.ID, u.Name, count, u.ItemType}); err != nil {
			return fmt.Errorf("failed to render sync units: %w", err)
		}
	}
	return table.Render()
}
