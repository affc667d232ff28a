package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/audiobridge/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long: `List the microphones the configured capture backend can open. The source
selected by audio.source is marked and validated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := audio.NewCaptureProvider(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize capture backend: %w", err)
		}
		defer provider.Close()

		sources, err := provider.Sources()
		if err != nil {
			return fmt.Errorf("failed to list sources: %w", err)
		}

		fmt.Printf("Capture sources (%s, %s)\n", runtime.GOOS, audio.DescribeBackend(cfg))
		fmt.Println(renderSources(sources, cfg.Audio.Source))

		if err := audio.ValidateSource(cfg.Audio.Source, sources); err != nil {
			return err
		}
		return nil
	},
}

func renderSources(sources []audio.SourceInfo, selected string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "ID", "Name", "Bluetooth", "Selected"})

	var match *audio.SourceInfo
	if selected != "" && selected != "default" {
		match, _ = audio.ResolveSource(selected, sources)
	}

	for i, src := range sources {
		bt := ""
		if src.Bluetooth {
			bt = "yes"
		}
		mark := ""
		if match != nil && match.ID == src.ID {
			mark = "*"
		}
		tw.AppendRow(table.Row{i + 1, src.ID, strings.TrimSpace(src.Name), bt, mark})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
