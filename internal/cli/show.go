package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"finpath-insight/internal/app"
)

var (
	showType  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the most recently cached records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			DataType: showType,
			Limit:    showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showType, "type", "stock_price", "Data type to list")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
