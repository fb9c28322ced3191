package cli

import (
	"github.com/spf13/cobra"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Refresh the configured watchlist once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Warm(cmd.Context())
	},
}
