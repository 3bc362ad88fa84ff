package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ftl/fpgascope/osc"
	"github.com/ftl/fpgascope/scope"
)

var viewFlags = struct {
	address string
}{}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "print a summary of the frames of a running frame server",
	RunE:  runWithCtx(runView),
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().StringVar(&viewFlags.address, "address", "localhost:35369", "the address of the frame server")
}

func runView(ctx context.Context, _ *cobra.Command, _ []string) error {
	client := scope.NewClient(viewFlags.address)
	err := client.Open()
	if err != nil {
		return err
	}
	defer client.Close()

	timeFrames, spectralFrames, err := client.GetFrames(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case timeFrame, ok := <-timeFrames:
			if !ok {
				return nil
			}
			printTimeFrame(os.Stdout, timeFrame)
		case spectralFrame, ok := <-spectralFrames:
			if !ok {
				return nil
			}
			printSpectralFrame(os.Stdout, spectralFrame)
		}
	}
}

func printTimeFrame(w io.Writer, frame *scope.TimeFrame) {
	channels := make([]string, 0, 2)
	for _, id := range []scope.ChannelID{scope.CH0, scope.CH1} {
		values, ok := frame.Values[id]
		if !ok {
			continue
		}
		channels = append(channels, fmt.Sprintf("%s: %d", id, len(values)))
	}
	fmt.Fprintf(w, "%s %s  fs=%.3f MS/s  %.3f ms  %.3f V @ %.3f V  %s  %s\n",
		frame.Timestamp.Format("15:04:05.000"), frame.Stream,
		frame.SampleRate/1e6, frame.TimeWindow*1e3, frame.VoltageRange, frame.VoltageCenter,
		strings.Join(channels, " "), strings.Join(frame.Measurements, "  "))
}

func printSpectralFrame(w io.Writer, frame *scope.SpectralFrame) {
	fmt.Fprintf(w, "%s %s  %.0f..%.0f Hz  %d bins",
		frame.Timestamp.Format("15:04:05.000"), frame.Stream,
		frame.FromFrequency, frame.ToFrequency, len(frame.Values))
	if peak, ok := frame.FrequencyMarkers[osc.PeakMarker]; ok {
		fmt.Fprintf(w, "  peak %.1f Hz (%.2f)", peak, frame.MagnitudeMarkers[osc.PeakMarker])
	}
	fmt.Fprintln(w)
}
