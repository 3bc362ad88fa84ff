package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Set by the linker for release builds.
var (
	version   string = "develop"
	gitCommit string = "-"
	buildTime string = "-"
)

var rootFlags = struct {
	debug        bool
	pprofAddress string
}{}

var rootCmd = &cobra.Command{
	Use:   "fpgascope",
	Short: "fpgascope - a software oscilloscope for the sample stream of an FPGA board",
	Long: `fpgascope configures the acquisition of an FPGA board over UDP, receives the 8 bit sample stream
of one or two channels and renders the time or frequency domain view.

The frames are published to gRPC, websocket and remote console clients. The control commands of the
board's serial link are available with the serial command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRun:  setupDiagnostics,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, context.Canceled) {
		// the log output may be muted
		fmt.Fprintf(os.Stderr, "fpgascope: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "log the acquisition and the connections to stderr")
	rootCmd.PersistentFlags().StringVar(&rootFlags.pprofAddress, "pprof", "", "serve the pprof endpoints on this address, e.g. localhost:6060")

	rootCmd.PersistentFlags().MarkHidden("pprof")
}

func setupDiagnostics(_ *cobra.Command, _ []string) {
	if !rootFlags.debug {
		log.SetOutput(&nopWriter{})
	}
	log.Printf("fpgascope Version %s", formatVersion())

	if rootFlags.pprofAddress != "" {
		go func() {
			log.Printf("pprof on http://%s/debug/pprof", rootFlags.pprofAddress)
			log.Println(http.ListenAndServe(rootFlags.pprofAddress, nil))
		}()
	}
}

type runFunc func(ctx context.Context, cmd *cobra.Command, args []string) error

// runWithCtx runs f with a context that is canceled by the first interrupt signal.
func runWithCtx(f runFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer signal.Stop(signals)
		go cancelOnSignal(ctx, signals, cancel)

		return f(ctx, cmd, args)
	}
}

// cancelOnSignal cancels on the first signal, a second signal exits immediately.
func cancelOnSignal(ctx context.Context, signals <-chan os.Signal, cancel context.CancelFunc) {
	select {
	case <-ctx.Done():
		return
	case sig := <-signals:
		log.Printf("%v, shutting down", sig)
		cancel()
	}
	<-signals
	fmt.Fprintln(os.Stderr, "fpgascope: hard shutdown")
	os.Exit(2)
}

func formatVersion() string {
	if gitCommit == "-" && buildTime == "-" {
		return version
	}
	return fmt.Sprintf("%s_%s_%s", version, gitCommit, buildTime)
}

type nopWriter struct{}

func (w *nopWriter) Write(p []byte) (n int, err error) { return len(p), nil }
