package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-banners/internal/printer"
	"github.com/tendant/simple-banners/pkg/simplebanners"
)

var duplicateCmd = &cobra.Command{
	Use:   "duplicate ID...",
	Short: "Copy entries under new names",
	Long: `Duplicate creates an unpublished copy of each entry, named after the
source with a "(copy <uuid>)" suffix. All ids must exist or nothing is copied.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDuplicate,
}

func init() {
	rootCmd.AddCommand(duplicateCmd)
}

func runDuplicate(cmd *cobra.Command, args []string) error {
	ids := make([]uuid.UUID, 0, len(args))
	seen := make(map[uuid.UUID]bool, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return printer.Error(cmd.ErrOrStderr(), "invalid entry id", fmt.Sprintf("%q is not a UUID", arg), nil)
		}
		// The service copies each id once; keep ids aligned with its result.
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	components, err := openComponents(cmd)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "cannot open banner store", err.Error(), nil)
	}
	defer components.Close()

	newIDs, err := components.Service.DuplicateEntries(cmd.Context(), ids)
	if err != nil {
		if errors.Is(err, simplebanners.ErrEntryNotFound) {
			return printer.Error(cmd.ErrOrStderr(), "entry not found", err.Error(),
				[]string{"Nothing was duplicated; check the ids and retry"})
		}
		return printer.Error(cmd.ErrOrStderr(), "duplicate failed", err.Error(), nil)
	}

	out := cmd.OutOrStdout()
	printer.Success(out, "Duplicated %d entries\n", len(newIDs))
	for i, id := range newIDs {
		printer.Info(out, "  %s -> %s\n", ids[i], id)
	}
	return nil
}
