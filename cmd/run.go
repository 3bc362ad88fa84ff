package cmd

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ftl/fpgascope/acq"
	"github.com/ftl/fpgascope/autorange"
	"github.com/ftl/fpgascope/calib"
	"github.com/ftl/fpgascope/control"
	"github.com/ftl/fpgascope/dsp"
	"github.com/ftl/fpgascope/frame"
	"github.com/ftl/fpgascope/osc"
	"github.com/ftl/fpgascope/scope"
	"github.com/ftl/fpgascope/telnet"
	"github.com/ftl/fpgascope/trace"
	"github.com/ftl/fpgascope/trigger"
	"github.com/ftl/fpgascope/udp"
	"github.com/ftl/fpgascope/web"
)

var runFlags = struct {
	destination     string
	destinationPort int
	localPort       int
	clockHz         float64
	queueSize       int
	tickPeriod      time.Duration

	channel    string
	points     int
	rate       float64
	mode       string
	continuous bool
	start      bool

	trigger    bool
	level      float64
	slope      string
	source     string
	pretrigger float64
	hysteresis float64

	timeWindow    time.Duration
	voltageRange  float64
	voltageCenter float64

	acCoupling  bool
	average     int
	peakHold    bool
	persistence int

	math   bool
	window string
	db     bool

	offset      float64
	voltsPerLSB float64

	frames        bool
	framesAddress string
	webAddress    string
	telnetAddress string
	csvFile       string
	parquetFile   string

	traceContext     string
	traceDestination string
}{}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "acquire samples from the FPGA and serve the rendered frames",
	RunE:  runWithCtx(runScope),
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.destination, "dst", udp.DefaultDestination, "the IP address of the device")
	runCmd.Flags().IntVar(&runFlags.destinationPort, "dst-port", udp.DefaultDestinationPort, "the command port of the device")
	runCmd.Flags().IntVar(&runFlags.localPort, "local-port", udp.DefaultLocalPort, "the local port that receives the samples")
	runCmd.Flags().Float64Var(&runFlags.clockHz, "clock", udp.DefaultClockHz, "the clock frequency of the device in Hz")
	runCmd.Flags().IntVar(&runFlags.queueSize, "queue", udp.DefaultQueueSize, "the size of the receive queue")
	runCmd.Flags().DurationVar(&runFlags.tickPeriod, "tick", osc.DefaultTickPeriod, "the period of the display loop")

	runCmd.Flags().StringVar(&runFlags.channel, "channel", "ch1", "ch1 | ch2 | dual")
	runCmd.Flags().IntVar(&runFlags.points, "points", acq.DefaultPoints, "the number of points of one round")
	runCmd.Flags().Float64Var(&runFlags.rate, "rate", acq.DefaultRate, "the requested sample rate in S/s")
	runCmd.Flags().StringVar(&runFlags.mode, "mode", "single", "single | continuous")
	runCmd.Flags().BoolVar(&runFlags.continuous, "continuous", false, "shorthand for --mode continuous")
	runCmd.Flags().BoolVar(&runFlags.start, "start", false, "start the acquisition right away")

	runCmd.Flags().BoolVar(&runFlags.trigger, "trigger", false, "enable the edge trigger")
	runCmd.Flags().Float64Var(&runFlags.level, "level", 0, "the trigger level in V")
	runCmd.Flags().StringVar(&runFlags.slope, "slope", "rising", "rising | falling")
	runCmd.Flags().StringVar(&runFlags.source, "source", "CH0", "CH0 | CH1")
	runCmd.Flags().Float64Var(&runFlags.pretrigger, "pretrigger", trigger.DefaultPretrigger, "the ratio of the window before the trigger point")
	runCmd.Flags().Float64Var(&runFlags.hysteresis, "hysteresis", trigger.DefaultHysteresis, "the trigger hysteresis in V")

	runCmd.Flags().DurationVar(&runFlags.timeWindow, "timewin", time.Duration(osc.DefaultTimeWindow*float64(time.Second)), "the visible time window")
	runCmd.Flags().Float64Var(&runFlags.voltageRange, "vrange", osc.DefaultVoltageRange, "the visible voltage range in V")
	runCmd.Flags().Float64Var(&runFlags.voltageCenter, "voffset", osc.DefaultVoltageCenter, "the center of the visible voltage range in V")

	runCmd.Flags().BoolVar(&runFlags.acCoupling, "ac", false, "remove the DC component")
	runCmd.Flags().IntVar(&runFlags.average, "avg", osc.MinAverageDepth, fmt.Sprintf("the averaging depth [%d, %d]", osc.MinAverageDepth, osc.MaxAverageDepth))
	runCmd.Flags().BoolVar(&runFlags.peakHold, "peak", false, "enable the peak hold envelope")
	runCmd.Flags().IntVar(&runFlags.persistence, "persist", 0, fmt.Sprintf("the number of persistent frames [0, %d]", osc.MaxPersistenceDepth))

	runCmd.Flags().BoolVar(&runFlags.math, "math", false, "show the spectrum instead of the waveform")
	runCmd.Flags().StringVar(&runFlags.window, "window", string(dsp.HannWindow), "hann | blackman | rect")
	runCmd.Flags().BoolVar(&runFlags.db, "db", true, "show the spectrum in dB")

	runCmd.Flags().Float64Var(&runFlags.offset, "v0-offset", calib.DefaultOffset, "the calibration offset in V")
	runCmd.Flags().Float64Var(&runFlags.voltsPerLSB, "v-per-lsb", calib.DefaultVoltsPerLSB, "the calibration slope in V per LSB")

	runCmd.Flags().BoolVar(&runFlags.frames, "frames", false, "publish the rendered frames over gRPC")
	runCmd.Flags().StringVar(&runFlags.framesAddress, "frames-address", ":35369", "listening address of the gRPC frame server")
	runCmd.Flags().StringVar(&runFlags.webAddress, "web", "", "listening address of the websocket frame feed, e.g. :8080")
	runCmd.Flags().StringVar(&runFlags.telnetAddress, "telnet", "", "listening address of the remote console, e.g. :7373")
	runCmd.Flags().StringVar(&runFlags.csvFile, "csv", "", "save the buffered samples as CSV into this file on exit")
	runCmd.Flags().StringVar(&runFlags.parquetFile, "parquet", "", "save the buffered samples as Parquet into this file on exit")

	runCmd.Flags().StringVar(&runFlags.traceContext, "trace", "", "decode | trigger")
	runCmd.Flags().StringVar(&runFlags.traceDestination, "trace_to", "", "file:<filename> | udp:<host:port>")
}

func runScope(ctx context.Context, _ *cobra.Command, _ []string) error {
	config, err := engineConfig()
	if err != nil {
		return err
	}
	settings, err := initialSettings()
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	var engine *osc.Engine
	handler := func(line string) (string, error) {
		return control.Execute(engine, line)
	}

	scopes := scope.Scopes{}
	if runFlags.frames {
		frameServer := scope.NewFrameServer(runFlags.framesAddress)
		if err := frameServer.Start(); err != nil {
			return fmt.Errorf("cannot start the frame server: %w", err)
		}
		defer frameServer.Stop()
		log.Printf("frame server listening on %s", runFlags.framesAddress)
		scopes = append(scopes, frameServer)
	}
	var hub *web.Hub
	if runFlags.webAddress != "" {
		hub = web.NewHub(handler)
		scopes = append(scopes, hub)
	}

	engine = osc.NewEngine(config, autorange.WallClock, scopes)
	if err := applySettings(engine, settings); err != nil {
		return err
	}

	if runFlags.traceContext != "" {
		tracer, err := trace.New(runFlags.traceContext, runFlags.traceDestination)
		if err != nil {
			return err
		}
		log.Printf("tracing %s to %s", runFlags.traceContext, runFlags.traceDestination)
		engine.SetTracer(tracer)
	}

	if err := engine.Connect(); err != nil {
		return err
	}
	if runFlags.start {
		if err := engine.StartAcquisition(); err != nil {
			return err
		}
	}

	engine.Start()
	group.Go(func() error {
		return engine.Run(ctx)
	})

	if hub != nil {
		engine.Notify(hub)
		group.Go(func() error {
			log.Printf("serving the frame feed on %s", runFlags.webAddress)
			return web.Serve(ctx, runFlags.webAddress, hub)
		})
	}

	if runFlags.telnetAddress != "" {
		console, err := telnet.NewServer(runFlags.telnetAddress, formatVersion(), handler)
		if err != nil {
			engine.Stop()
			return fmt.Errorf("cannot start the remote console: %w", err)
		}
		log.Printf("remote console listening on %s", console.Addr())
		engine.Notify(console)
		group.Go(func() error {
			<-ctx.Done()
			console.Stop()
			return nil
		})
	}

	err = group.Wait()
	saveOnExit(engine)
	return err
}

func engineConfig() (osc.Config, error) {
	config := osc.DefaultConfig()
	config.Net = udp.NetConfig{
		Destination:     runFlags.destination,
		DestinationPort: runFlags.destinationPort,
		LocalPort:       runFlags.localPort,
		ClockHz:         runFlags.clockHz,
	}
	if err := config.Net.Validate(); err != nil {
		return osc.Config{}, err
	}
	calibration, err := calib.New(runFlags.offset, runFlags.voltsPerLSB)
	if err != nil {
		return osc.Config{}, err
	}
	log.Printf("calibration: %s", calibration)
	config.Calibration = calibration
	config.QueueSize = runFlags.queueSize
	config.TickPeriod = runFlags.tickPeriod
	return config, nil
}

func initialSettings() (osc.Settings, error) {
	settings := osc.DefaultSettings()
	var err error

	settings.Acquisition.Channel, err = frame.ParseChannelCode(runFlags.channel)
	if err != nil {
		return settings, err
	}
	settings.Acquisition.Points = runFlags.points
	settings.Acquisition.Rate = runFlags.rate
	settings.Acquisition.Mode, err = acq.ParseMode(runFlags.mode)
	if err != nil {
		return settings, err
	}
	if runFlags.continuous {
		settings.Acquisition.Mode = acq.Continuous
	}

	settings.Trigger.Enabled = runFlags.trigger
	settings.Trigger.Level = runFlags.level
	settings.Trigger.Pretrigger = runFlags.pretrigger
	settings.Trigger.Hysteresis = runFlags.hysteresis
	settings.Trigger.Slope, err = trigger.ParseSlope(runFlags.slope)
	if err != nil {
		return settings, err
	}
	settings.Trigger.Source, err = trigger.ParseSource(runFlags.source)
	if err != nil {
		return settings, err
	}

	settings.TimeWindow = runFlags.timeWindow.Seconds()
	settings.VoltageRange = runFlags.voltageRange
	settings.VoltageCenter = runFlags.voltageCenter

	settings.Conditioning = osc.NormalizedConditioning(dsp.ConditionSettings{
		ACCoupling:       runFlags.acCoupling,
		AverageDepth:     runFlags.average,
		PeakHold:         runFlags.peakHold,
		PersistenceDepth: runFlags.persistence,
	})

	settings.MathMode = runFlags.math
	settings.Window, err = dsp.ParseWindow(runFlags.window)
	if err != nil {
		return settings, err
	}
	settings.SpectrumInDB = runFlags.db
	return settings, nil
}

func applySettings(engine *osc.Engine, settings osc.Settings) error {
	if err := engine.SetAcquisition(settings.Acquisition); err != nil {
		return err
	}
	if err := engine.SetTimeWindow(settings.TimeWindow); err != nil {
		return fmt.Errorf("time window: %w", err)
	}
	if err := engine.SetVoltageRange(settings.VoltageRange); err != nil {
		return fmt.Errorf("voltage range: %w", err)
	}
	engine.SetVoltageCenter(settings.VoltageCenter)
	engine.SetConditioning(settings.Conditioning)
	engine.SetTrigger(settings.Trigger)
	engine.SetSpectrum(settings.Window, settings.SpectrumInDB)
	engine.SetMathMode(settings.MathMode)
	return nil
}

func saveOnExit(engine *osc.Engine) {
	for _, filename := range []string{runFlags.csvFile, runFlags.parquetFile} {
		if filename == "" {
			continue
		}
		if filename == runFlags.parquetFile && !strings.EqualFold(filepath.Ext(filename), ".parquet") {
			filename += ".parquet"
		}
		err := engine.Save(filename)
		if err != nil {
			log.Printf("cannot save %s: %v", filename, err)
		}
	}
}
