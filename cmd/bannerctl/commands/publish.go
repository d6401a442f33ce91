package commands

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-banners/internal/printer"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

var publishActor string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish all active entries",
	Long: `Publish snapshots every active entry in a visible slot and makes the
resulting set live. Entries whose content did not change reuse their existing
snapshot.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishActor, "actor", "", "Identifier recorded as the publisher (required)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	if publishActor == "" {
		return printer.Error(cmd.ErrOrStderr(), "missing --actor",
			"Every publication records who published it.",
			[]string{"Run: bannerctl publish --actor <name>"})
	}

	components, err := openComponents(cmd)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "cannot open banner store", err.Error(), nil)
	}
	defer components.Close()

	result, err := components.Service.Publish(cmd.Context(), publishActor)
	if err != nil {
		if errors.Is(err, simplebanners.ErrPublishConflict) {
			return printer.Error(cmd.ErrOrStderr(), "publish conflict", err.Error(),
				[]string{"Wait for the running publish to finish and retry"})
		}
		return printer.Error(cmd.ErrOrStderr(), "publish failed", err.Error(), nil)
	}

	out := cmd.OutOrStdout()
	printer.Success(out, "Published %s\n", result.PublicationID)
	printer.Info(out, "  reused:  %d\n", result.Reused)
	printer.Info(out, "  created: %d\n", result.Created)
	printer.Info(out, "  total:   %d\n", result.Total())
	return nil
}
