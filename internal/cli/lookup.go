package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tariffscope/internal/model"
)

var lookupChildren bool

// lookupCmd represents the lookup command
var lookupCmd = &cobra.Command{
	Use:   "lookup <code>",
	Short: "Show a classification code, its ancestors and chapter notes",
	Long: `Lookup prints a code from the latest snapshot together with its
ancestor chain, its general rate and the notes of its chapter.

Example:
  tariffscope lookup 8471.30
  tariffscope lookup 84 --children`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

func init() {
	rootCmd.AddCommand(lookupCmd)
	lookupCmd.Flags().BoolVar(&lookupChildren, "children", false, "also list direct children")
}

func runLookup(cmd *cobra.Command, args []string) error {
	code, err := model.ParseCode(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, snap, err := currentSnapshot(context.Background(), cfg)
	if err != nil {
		return err
	}

	c, ok := snap.Code(code)
	if !ok {
		return fmt.Errorf("code %s is not in snapshot %s", code, snap.Version())
	}

	fmt.Printf("%s  %s\n", c.Code, c.Description)
	if !c.IsActive {
		fmt.Printf("  (retired: no longer published in the schedule)\n")
	}
	if c.UnitOfQuantity != "" {
		fmt.Printf("  Unit:     %s\n", c.UnitOfQuantity)
	}
	fmt.Printf("  Section:  %s  Chapter: %s\n", c.SectionID, c.ChapterID)
	if g, ok := snap.GeneralRate(c.Code); ok {
		fmt.Printf("  General:  %s\n", g.RawText)
	}

	if ancestors := snap.Ancestors(c.Code); len(ancestors) > 0 {
		fmt.Printf("\nAncestors:\n")
		for i, a := range ancestors {
			fmt.Printf("  %s%s  %s\n", strings.Repeat("  ", i), a.Code, a.Description)
		}
	}

	if lookupChildren {
		if children := snap.Children(c.Code); len(children) > 0 {
			fmt.Printf("\nChildren:\n")
			for _, ch := range children {
				fmt.Printf("  %s  %s\n", ch.Code, ch.Description)
			}
		}
	}

	if notes := snap.Notes(c.ChapterID); len(notes) > 0 {
		fmt.Printf("\nChapter %s notes:\n", c.ChapterID)
		for _, n := range notes {
			fmt.Printf("  %s\n", n.Text)
		}
	}
	return nil
}
