package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/audiobridge/internal/service"
	"github.com/audiolibrelab/audiobridge/internal/session"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a clip from the microphone and save it",
	Long: `Record from the configured microphone until Ctrl+C (or --duration), then
optionally run the transfer to the laptop side and save the clip to the
output directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")
		transfer, _ := cmd.Flags().GetBool("transfer")
		format, _ := cmd.Flags().GetString("format")
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			cfg.Output.Directory = output
		}

		svc, err := service.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Requesting microphone...", "backend", svc.Status().Backend)
		if err := svc.StartRecording(ctx); err != nil {
			if notice := svc.GetLastError(); notice != "" {
				fmt.Fprintln(os.Stderr, notice)
			}
			return err
		}

		if duration > 0 {
			slog.Info("Recording...", "duration", duration)
			select {
			case <-ctx.Done():
			case <-time.After(duration):
			}
		} else {
			slog.Info("Recording... Press Ctrl+C to stop")
			<-ctx.Done()
		}

		svc.StopRecording()
		st := svc.Status()
		slog.Info("Recording completed", "length", service.FormatTime(st.DurationSeconds), "bytes", st.ClipBytes)

		if transfer {
			// The first interrupt ended the recording; a second one abandons the transfer.
			stop()
			tctx, tstop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer tstop()
			if err := waitForTransfer(tctx, svc); err != nil {
				return err
			}
		}

		path, err := svc.SaveRecording(format)
		if err != nil {
			return fmt.Errorf("failed to save recording: %w", err)
		}
		fmt.Println(path)
		return nil
	},
}

// waitForTransfer runs the transfer and logs progress until it completes or
// ctx is done.
func waitForTransfer(ctx context.Context, svc service.Service) error {
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := svc.Subscribe(func(snap session.Snapshot) {
		switch snap.Transfer {
		case session.TransferTransferring:
			slog.Debug("Transferring to laptop...", "percent", snap.TransferPercent)
		case session.TransferCompleted:
			once.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	svc.StartTransfer()
	if svc.Status().Transfer == session.TransferNotStarted {
		return fmt.Errorf("transfer did not start: %w", session.ErrNoClip)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("transfer interrupted at %d%%: %w", svc.Status().TransferPercent, ctx.Err())
	}
	slog.Info("Transfer complete. Ready to play on your laptop")
	return nil
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "stop after this long (default: wait for Ctrl+C)")
	recordCmd.Flags().BoolP("transfer", "t", false, "run the transfer to the laptop side before saving")
	recordCmd.Flags().StringP("format", "f", "", "download format: wav or flac (overrides output.format)")
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}
