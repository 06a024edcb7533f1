package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tariffscope/internal/model"
)

var (
	reviewKinds []string
	reviewJSON  bool
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List dead letters awaiting manual review",
	Long: `Review lists the rows the latest extraction run set aside: rate text
that matched no grammar rule, malformed codes, duplicates, failed fetches,
orphaned codes and register rows that name unknown codes.

Kinds: parse_failure, row_validation_failure, invalid_code_length,
duplicate_code, fetch_failure, hierarchy_orphan, unreferenced_code

Example:
  tariffscope review
  tariffscope review --kind parse_failure --kind fetch_failure
  tariffscope review --json > review.json`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().StringSliceVar(&reviewKinds, "kind", nil, "only show these kinds (repeatable)")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "print as JSON")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, snap, err := currentSnapshot(context.Background(), cfg)
	if err != nil {
		return err
	}

	kinds := make([]model.DeadLetterKind, 0, len(reviewKinds))
	for _, k := range reviewKinds {
		kinds = append(kinds, model.DeadLetterKind(k))
	}
	dls := snap.DeadLetters(kinds...)

	if reviewJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dls)
	}

	fmt.Fprintf(os.Stderr, "Snapshot %s: %d dead letters\n\n", snap.Version(), len(dls))
	for _, dl := range dls {
		fmt.Printf("[%s]", dl.Kind)
		if dl.ChapterID != "" {
			fmt.Printf(" chapter %s", dl.ChapterID)
		}
		if dl.Code != "" {
			fmt.Printf(" code %s", dl.Code)
		}
		fmt.Printf(": %s\n", dl.Reason)
		if dl.Raw != "" {
			fmt.Printf("    row: %s\n", dl.Raw)
		}
		if dl.URL != "" {
			fmt.Printf("    url: %s\n", dl.URL)
		}
	}
	return nil
}
