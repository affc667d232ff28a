package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/audiobridge/internal/audio"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and backends",
	Long:  `Display the resolved configuration with inheritance indicators. Shows which values come from the defaults, the default profile, the selected profile or the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("=== BACKENDS ===\n")
		fmt.Printf("selected: %s\n", audio.DescribeBackend(cfg))
		fmt.Printf("available:")
		for _, b := range audio.GetAvailableBackends() {
			fmt.Printf(" %s", b)
		}
		fmt.Printf("\nconfig_file: %s\n", cfgFile)

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(cfg.Source("audio.backend")))
		fmt.Printf("playback: %s %s\n", cfg.Audio.Playback, getInheritanceIndicator(cfg.Source("audio.playback")))
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, getInheritanceIndicator(cfg.Source("audio.sample_rate")))
		fmt.Printf("channels: %d %s\n", cfg.Audio.Channels, getInheritanceIndicator(cfg.Source("audio.channels")))
		fmt.Printf("source: %q %s\n", cfg.Audio.Source, getInheritanceIndicator(cfg.Source("audio.source")))
		fmt.Printf("tone.frequency: %.1f %s\n", cfg.Audio.Tone.Frequency, getInheritanceIndicator(cfg.Source("audio.tone.frequency")))
		fmt.Printf("tone.permission: %s %s\n", cfg.Audio.Tone.Permission, getInheritanceIndicator(cfg.Source("audio.tone.permission")))
		fmt.Printf("tone.permission_delay_ms: %d %s\n", cfg.Audio.Tone.PermissionDelayMs, getInheritanceIndicator(cfg.Source("audio.tone.permission_delay_ms")))

		fmt.Printf("\n[Transfer]\n")
		fmt.Printf("interval_ms: %d %s\n", cfg.Transfer.IntervalMs, getInheritanceIndicator(cfg.Source("transfer.interval_ms")))
		fmt.Printf("step_percent: %d %s\n", cfg.Transfer.StepPercent, getInheritanceIndicator(cfg.Source("transfer.step_percent")))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(cfg.Source("output.directory")))
		fmt.Printf("format: %s %s\n", cfg.Output.Format, getInheritanceIndicator(cfg.Source("output.format")))

		fmt.Printf("\n[Server]\n")
		fmt.Printf("port: %s %s\n", cfg.Server.Port, getInheritanceIndicator(cfg.Source("server.port")))

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "environment":
		return "[environment]"
	case "default":
		return "[default]"
	default:
		return "[unknown]"
	}
}
