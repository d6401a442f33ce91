package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-banners/internal/printer"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

var (
	liveLimit  int
	liveOffset int
	liveJSON   bool
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Show the live publication and its banners",
	Args:  cobra.NoArgs,
	RunE:  runLive,
}

func init() {
	liveCmd.Flags().IntVar(&liveLimit, "limit", 100, "Maximum number of banners to show (capped by the service)")
	liveCmd.Flags().IntVar(&liveOffset, "offset", 0, "Number of banners to skip")
	liveCmd.Flags().BoolVar(&liveJSON, "json", false, "Print banners as JSON")
	rootCmd.AddCommand(liveCmd)
}

type liveOutput struct {
	ID          string                     `json:"id"`
	PublishedBy string                     `json:"published_by"`
	PublishedAt time.Time                  `json:"published_at"`
	Count       int                        `json:"count"`
	Banners     []simplebanners.BannerView `json:"banners"`
}

func runLive(cmd *cobra.Command, args []string) error {
	components, err := openComponents(cmd)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "cannot open banner store", err.Error(), nil)
	}
	defer components.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	page, err := components.Service.GetLiveSnapshots(ctx, liveLimit, liveOffset)
	if errors.Is(err, simplebanners.ErrNoLivePublication) {
		if liveJSON {
			fmt.Fprintln(out, "{}")
			return nil
		}
		printer.Warning(out, "Nothing is published yet\n")
		return nil
	} else if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "cannot read live publication", err.Error(), nil)
	}

	live := page.Publication
	banners := simplebanners.NewBannerViews(page.Snapshots)

	if liveJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(liveOutput{
			ID:          live.ID.String(),
			PublishedBy: live.PublishedBy,
			PublishedAt: live.PublishedAt,
			Count:       page.Count,
			Banners:     banners,
		})
	}

	printer.Heading(out, "Publication %s\n", live.ID)
	printer.Info(out, "Published by %s at %s\n", live.PublishedBy, live.PublishedAt.Format(time.RFC3339))
	printer.Info(out, "Showing %d of %d banners\n\n", len(banners), page.Count)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tPAGE/SLOT\tCOUNTRIES\tLANGUAGES")
	for _, b := range banners {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s/%s\t%s\t%s\n",
			b.ID, b.Name, b.Priority, b.Slot.Page.Name, b.Slot.Name,
			listOrAll(b.Countries), listOrAll(b.Languages))
	}
	return w.Flush()
}

func listOrAll(values []string) string {
	if len(values) == 0 {
		return "*"
	}
	return strings.Join(values, ",")
}
