package cli

import (
	"github.com/spf13/cobra"

	"finpath-insight/internal/app"
)

var (
	getPeriod   string
	getLimit    int
	getIdentity string
	getTier     string
)

var getCmd = &cobra.Command{
	Use:   "get <dataType> [key]",
	Short: "Fetch one payload through the cache and print it as JSON",
	Example: `  finpath get stock_price RELIANCE.NSE
  finpath get history TCS --period 6mo
  finpath get news`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.GetOptions{
			DataType: args[0],
			Period:   getPeriod,
			Limit:    getLimit,
			Identity: getIdentity,
			Tier:     getTier,
		}
		if len(args) == 2 {
			opts.Key = args[1]
		}
		return getApp().Get(cmd.Context(), opts)
	},
}

func init() {
	getCmd.Flags().StringVar(&getPeriod, "period", "", "History range (1mo, 3mo, 6mo, 1y, 2y, 5y, max)")
	getCmd.Flags().IntVar(&getLimit, "limit", 0, "Maximum number of news articles")
	getCmd.Flags().StringVar(&getIdentity, "user", "cli", "Identity charged against the rate limit")
	getCmd.Flags().StringVar(&getTier, "tier", "free", "Subscription tier (free, pro)")
}
