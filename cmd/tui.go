package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/audiobridge/internal/service"
	"github.com/audiolibrelab/audiobridge/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the phone and laptop views in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Log lines would tear the alt screen.
		if verboseLevel == 0 {
			slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		}

		svc, err := service.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		return tui.Run(svc)
	},
}
