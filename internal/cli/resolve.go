package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/resolver"
)

var (
	resolveCountry  string
	resolveExporter string
	resolveValue    string
	resolveQuantity string
	resolveDate     string
	resolveTaxRate  string
)

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve <code>",
	Short: "Compute the duty and tax for one shipment",
	Long: `Resolve computes the landed duty for a classification code, country of
origin and customs value against the latest snapshot:
- Fall back to the nearest rated ancestor if the code has no general rate
- Apply concessions, then trade remedies, then the lower of the general
  and best preferential rate
- Add tax on the duty-inclusive value

The full breakdown, including every rate considered, is printed as JSON.

Example:
  tariffscope resolve 8471.30.00.00 --country CHN --value 1500.00
  tariffscope resolve 7208510000 --country KOR --exporter "Posco" --value 20000 --quantity 12500
  tariffscope resolve 0201 --country AUS --value 900 --date 2024-07-01`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&resolveCountry, "country", "", "ISO 3166-1 alpha-3 country of origin (required)")
	resolveCmd.Flags().StringVar(&resolveExporter, "exporter", "", "exporter name for exporter-specific remedies")
	resolveCmd.Flags().StringVar(&resolveValue, "value", "", "customs value (required)")
	resolveCmd.Flags().StringVar(&resolveQuantity, "quantity", "", "quantity in the code's unit, for specific rates")
	resolveCmd.Flags().StringVar(&resolveDate, "date", "", "effective date YYYY-MM-DD (default today)")
	resolveCmd.Flags().StringVar(&resolveTaxRate, "tax-rate", "", "tax rate fraction (overrides resolver.tax_rate)")
	_ = resolveCmd.MarkFlagRequired("country")
	_ = resolveCmd.MarkFlagRequired("value")
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if resolveTaxRate != "" {
		cfg.Resolver.TaxRate = resolveTaxRate
	}
	rcfg, err := resolver.ConfigFrom(cfg.Resolver)
	if err != nil {
		return err
	}

	req, err := buildDutyRequest(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, _, err := currentSnapshot(ctx, cfg)
	if err != nil {
		return err
	}

	breakdown, err := resolver.New(st, rcfg).Resolve(ctx, req)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	if verbose {
		for _, step := range breakdown.CalculationSteps {
			fmt.Fprintf(os.Stderr, "  %s\n", step)
		}
		for _, w := range breakdown.Warnings {
			fmt.Fprintf(os.Stderr, "⚠️  %s\n", w)
		}
		fmt.Fprintln(os.Stderr)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(breakdown)
}

func buildDutyRequest(code string) (model.DutyRequest, error) {
	req := model.DutyRequest{
		Code:         code,
		CountryCode:  resolveCountry,
		ExporterName: resolveExporter,
	}

	value, err := decimal.NewFromString(strings.TrimSpace(resolveValue))
	if err != nil {
		return req, fmt.Errorf("invalid --value %q: %w", resolveValue, err)
	}
	req.CustomsValue = value

	if resolveQuantity != "" {
		qty, err := decimal.NewFromString(strings.TrimSpace(resolveQuantity))
		if err != nil {
			return req, fmt.Errorf("invalid --quantity %q: %w", resolveQuantity, err)
		}
		req.Quantity = &qty
	}

	if resolveDate != "" {
		d, err := time.Parse(time.DateOnly, resolveDate)
		if err != nil {
			return req, fmt.Errorf("invalid --date %q (want YYYY-MM-DD): %w", resolveDate, err)
		}
		req.Date = &d
	}
	return req, nil
}
