package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-banners/internal/printer"
	"github.com/tendant/simple-banners/pkg/simplebanners"
	"gopkg.in/yaml.v3"
)

var (
	seedFile    string
	seedPublish string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create pages, slots and entries from a YAML file",
	Long: `Seed reads a YAML document of pages with nested slots and entries and
creates whatever does not exist yet. Pages and slots are matched by name and
reused; entries whose name already exists in the slot are skipped.

Example:

  pages:
    - name: home
      slots:
        - name: top
          entries:
            - name: Welcome
              priority: 5
              countries: [DE, AT]
              body: "<p>Hallo</p>"`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Seed file, or - for stdin (required)")
	seedCmd.Flags().StringVar(&seedPublish, "publish", "", "Publish as this actor after seeding")
	rootCmd.AddCommand(seedCmd)
}

// SeedFile is the document accepted by the seed command.
type SeedFile struct {
	Pages []SeedPage `yaml:"pages"`
}

type SeedPage struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Slots       []SeedSlot `yaml:"slots"`
}

type SeedSlot struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Hidden      bool        `yaml:"hidden"`
	Entries     []SeedEntry `yaml:"entries"`
}

type SeedEntry struct {
	Name        string     `yaml:"name"`
	Priority    *int       `yaml:"priority"`
	Countries   []string   `yaml:"countries"`
	Languages   []string   `yaml:"languages"`
	StartTime   *time.Time `yaml:"start_time"`
	EndTime     *time.Time `yaml:"end_time"`
	Dismissible *bool      `yaml:"dismissible"`
	Stopped     bool       `yaml:"stopped"`
	Body        string     `yaml:"body"`
	Segments    []string   `yaml:"segments"`
}

// SeedStats counts what a seed run created and skipped.
type SeedStats struct {
	PagesCreated   int
	SlotsCreated   int
	EntriesCreated int
	EntriesSkipped int
}

// ParseSeedFile decodes a seed document, rejecting unknown fields.
func ParseSeedFile(r io.Reader) (*SeedFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc SeedFile
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &doc, nil
}

// Apply creates the document's containers and entries through svc.
func (doc *SeedFile) Apply(ctx context.Context, svc simplebanners.Service) (*SeedStats, error) {
	stats := &SeedStats{}

	pages, err := svc.ListPages(ctx)
	if err != nil {
		return nil, err
	}
	pagesByName := make(map[string]*simplebanners.Page, len(pages))
	for _, p := range pages {
		pagesByName[p.Name] = p
	}
	slots, err := svc.ListSlots(ctx)
	if err != nil {
		return nil, err
	}
	slotsByName := make(map[string]*simplebanners.Slot, len(slots))
	for _, s := range slots {
		slotsByName[s.Name] = s
	}

	for _, sp := range doc.Pages {
		page, ok := pagesByName[sp.Name]
		if !ok {
			page, err = svc.CreatePage(ctx, simplebanners.CreatePageRequest{Name: sp.Name, Description: sp.Description})
			if err != nil {
				return stats, fmt.Errorf("page %q: %w", sp.Name, err)
			}
			pagesByName[page.Name] = page
			stats.PagesCreated++
		}

		for _, ss := range sp.Slots {
			slot, ok := slotsByName[ss.Name]
			if !ok {
				slot, err = svc.CreateSlot(ctx, simplebanners.CreateSlotRequest{
					Name:        ss.Name,
					Description: ss.Description,
					PageID:      page.ID,
					Hidden:      ss.Hidden,
				})
				if err != nil {
					return stats, fmt.Errorf("slot %q: %w", ss.Name, err)
				}
				slotsByName[slot.Name] = slot
				stats.SlotsCreated++
			} else if slot.PageID != page.ID {
				return stats, fmt.Errorf("slot %q already belongs to another page", ss.Name)
			}

			if err := seedEntries(ctx, svc, slot, ss.Entries, stats); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

func seedEntries(ctx context.Context, svc simplebanners.Service, slot *simplebanners.Slot, entries []SeedEntry, stats *SeedStats) error {
	if len(entries) == 0 {
		return nil
	}
	slotID := slot.ID
	existing, err := svc.ListEntries(ctx, simplebanners.EntryFilter{SlotID: &slotID, IncludeInactive: true})
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, e := range existing {
		names[e.Name] = true
	}

	for _, se := range entries {
		if names[se.Name] {
			stats.EntriesSkipped++
			continue
		}
		_, err := svc.CreateEntry(ctx, simplebanners.CreateEntryRequest{EntryFields: simplebanners.EntryFields{
			Name:        se.Name,
			SlotID:      slot.ID,
			Priority:    se.Priority,
			Countries:   se.Countries,
			Languages:   se.Languages,
			StartTime:   se.StartTime,
			EndTime:     se.EndTime,
			Dismissible: se.Dismissible,
			Stopped:     se.Stopped,
			Body:        se.Body,
			Segments:    se.Segments,
		}})
		if err != nil {
			return fmt.Errorf("entry %q in slot %q: %w", se.Name, slot.Name, err)
		}
		names[se.Name] = true
		stats.EntriesCreated++
	}
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedFile == "" {
		return printer.Error(cmd.ErrOrStderr(), "missing --file",
			"Seed needs a YAML document describing pages, slots and entries.",
			[]string{"Run: bannerctl seed -f banners.yaml"})
	}

	var r io.Reader = cmd.InOrStdin()
	if seedFile != "-" {
		f, err := os.Open(seedFile)
		if err != nil {
			return printer.Error(cmd.ErrOrStderr(), "cannot read seed file", err.Error(), nil)
		}
		defer f.Close()
		r = f
	}
	doc, err := ParseSeedFile(r)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "invalid seed file", err.Error(), nil)
	}

	components, err := openComponents(cmd)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "cannot open banner store", err.Error(), nil)
	}
	defer components.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	stats, err := doc.Apply(ctx, components.Service)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "seed failed", err.Error(),
			[]string{"Objects created before the failure were kept; fix the file and run seed again"})
	}
	printer.Success(out, "Seeded %d pages, %d slots, %d entries\n", stats.PagesCreated, stats.SlotsCreated, stats.EntriesCreated)
	if stats.EntriesSkipped > 0 {
		printer.Warning(out, "Skipped %d entries that already exist\n", stats.EntriesSkipped)
	}

	if seedPublish == "" {
		return nil
	}
	result, err := components.Service.Publish(ctx, seedPublish)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "publish failed", err.Error(), nil)
	}
	printer.Success(out, "Published %s (%d banners)\n", result.PublicationID, result.Total())
	return nil
}
