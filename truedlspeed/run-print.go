package truedlspeed

import (
	"context"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	gaugeRedrawsPerSecond = 4
	gaugeWidth            = 30
)

// frontEnd is the terminal stand-in for a UI: it owns a dashboard and
// prints what the samplers report.
type frontEnd struct {
	printer   *log.Logger
	cfg       *Config
	scale     *GaugeScale
	dashboard *Dashboard
}

func newFrontEnd(printer *log.Logger, cfg *Config, logger *zerolog.Logger) (*frontEnd, error) {
	scale, err := cfg.GaugeScale()
	if err != nil {
		return nil, err
	}

	var engine *SmoothingEngine
	if cfg.Gauge {
		gauge := newGaugePrinter(printer, scale)
		engine, err = cfg.NewSmoothingEngine(gauge.frame)
		if err != nil {
			return nil, errors.Wrap(err, "invalid smoothing settings")
		}
	}

	return &frontEnd{
		printer:   printer,
		cfg:       cfg,
		scale:     scale,
		dashboard: NewDashboard(cfg.NewThroughputSampler(logger), cfg.NewLatencySampler(logger), engine),
	}, nil
}

func (fe *frontEnd) close() {
	if fe.dashboard.Engine != nil {
		fe.dashboard.Engine.Stop()
	}
}

type gaugePrinter struct {
	printer *log.Logger
	scale   *GaugeScale
	limiter *rate.Limiter
}

func newGaugePrinter(printer *log.Logger, scale *GaugeScale) *gaugePrinter {
	return &gaugePrinter{
		printer: printer,
		scale:   scale,
		limiter: rate.NewLimiter(rate.Limit(gaugeRedrawsPerSecond), 1),
	}
}

// frame draws at most gaugeRedrawsPerSecond of the engine's frames; a
// terminal cannot keep up with the animation rate.
func (g *gaugePrinter) frame(value float64) {
	if !g.limiter.Allow() {
		return
	}
	angle := g.scale.ValueToAngle(value)
	g.printer.Printf("Gauge: [%s] %8.2f Mbps %6.1f deg\n", gaugeBar(g.scale, angle, gaugeWidth), value, angle)
}

func gaugeBar(scale *GaugeScale, angle float64, width int) string {
	span := scale.MaxAngle() - scale.MinAngle()
	if !(span > 0) {
		return strings.Repeat("-", width)
	}
	filled := int(math.Round((angle - scale.MinAngle()) / span * float64(width)))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
}

func formatMillis(millis float64) string {
	return strconv.FormatFloat(millis, 'f', -1, 64)
}

func withDuration(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration > 0 {
		return context.WithTimeout(ctx, duration)
	}
	return context.WithCancel(ctx)
}

func printDownloadSummary(printer *log.Logger, session *ThroughputSession, stats *Stats, elapsed time.Duration) {
	unit := session.Unit()
	printer.Printf("Download-outcome: %s\n", session.Outcome())
	printer.Printf("Download-tx: %s in %s\n", humanize.Bytes(uint64(session.BytesTransferred())), elapsed.Round(time.Millisecond))
	if stats.NSamples > 0 {
		printer.Printf("Download-mean: %.3f %s\n", stats.Mean, unit)
		printer.Printf("Download-min: %.3f %s\n", stats.Min, unit)
		printer.Printf("Download-max: %.3f %s\n", stats.Max, unit)
	}
	printer.Printf("Download-n: %d\n", stats.NSamples)
}

func printPingSummary(printer *log.Logger, session *LatencySession, stats *Stats) {
	printer.Printf("Ping-outcome: %s\n", session.Outcome())
	if stats.NSamples > 0 {
		printer.Printf("Ping-mean: %.3f ms\n", stats.Mean)
		printer.Printf("Ping-min: %.3f ms\n", stats.Min)
		printer.Printf("Ping-max: %.3f ms\n", stats.Max)
	}
	printer.Printf("Ping-n: %d\n", stats.NSamples)
}

func printPingLog(printer *log.Logger, logText string) {
	printer.Println("Ping logs:")
	if logText == "" {
		printer.Println("No logs yet")
		return
	}
	printer.Print(logText)
}

func (fe *frontEnd) download(ctx context.Context) error {
	recorder := &sampleRecorder{}
	start := time.Now()

	session, err := fe.dashboard.StartDownload(ctx, fe.cfg.URL, fe.cfg.Unit, Handlers{
		OnSample: func(sample Sample) {
			recorder.record(sample)
			fe.printer.Printf("Download: %.2f %s\n", sample.Value, sample.Unit)
		},
	})
	if err != nil {
		return errors.Wrap(err, "could not start download")
	}

	err = session.Wait()
	printDownloadSummary(fe.printer, session, recorder.stats(), time.Since(start))
	if err != nil {
		return errors.Wrap(err, "download measurement failed")
	}
	return nil
}

func (fe *frontEnd) ping(ctx context.Context) error {
	recorder := &sampleRecorder{}

	session, err := fe.dashboard.StartPing(ctx, fe.cfg.Target, Handlers{
		OnSample: func(sample Sample) {
			recorder.record(sample)
			fe.printer.Printf("Ping: %s ms\n", formatMillis(sample.Value))
		},
	})
	if err != nil {
		return errors.Wrap(err, "could not start ping")
	}

	err = session.Wait()
	printPingSummary(fe.printer, session, recorder.stats())
	if fe.cfg.ShowLog {
		printPingLog(fe.printer, fe.dashboard.PingLog())
	}
	if err != nil {
		return errors.Wrap(err, "ping measurement failed")
	}
	return nil
}

// RunDownload measures throughput until the payload ends, ctx is done or
// cfg.Duration elapses.
func RunDownload(ctx context.Context, printer *log.Logger, cfg *Config, logger *zerolog.Logger) error {
	fe, err := newFrontEnd(printer, cfg, logger)
	if err != nil {
		return err
	}
	defer fe.close()

	ctx, cancel := withDuration(ctx, cfg.Duration)
	defer cancel()
	return fe.download(ctx)
}

// RunPing measures latency until the probe exits, ctx is done or
// cfg.Duration elapses.
func RunPing(ctx context.Context, printer *log.Logger, cfg *Config, logger *zerolog.Logger) error {
	fe, err := newFrontEnd(printer, cfg, logger)
	if err != nil {
		return err
	}
	defer fe.close()

	ctx, cancel := withDuration(ctx, cfg.Duration)
	defer cancel()
	return fe.ping(ctx)
}

// RunAll measures throughput and latency side by side. A failure of one
// does not stop the other.
func RunAll(ctx context.Context, printer *log.Logger, cfg *Config, logger *zerolog.Logger) error {
	fe, err := newFrontEnd(printer, cfg, logger)
	if err != nil {
		return err
	}
	defer fe.close()

	ctx, cancel := withDuration(ctx, cfg.Duration)
	defer cancel()

	var downloadErr, pingErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		downloadErr = fe.download(ctx)
	}()
	go func() {
		defer wg.Done()
		pingErr = fe.ping(ctx)
	}()
	wg.Wait()

	switch {
	case downloadErr != nil && pingErr != nil:
		return errors.Wrapf(downloadErr, "ping failed as well (%v)", pingErr)
	case downloadErr != nil:
		return downloadErr
	}
	return pingErr
}

// PrintScale lists where each breakpoint of the configured gauge lands.
func PrintScale(printer *log.Logger, cfg *Config) error {
	scale, err := cfg.GaugeScale()
	if err != nil {
		return err
	}
	for _, point := range scale.Breakpoints() {
		printer.Printf("%8.2f Mbps -> %6.1f deg [%s]\n", point.Value, point.Angle, gaugeBar(scale, point.Angle, gaugeWidth))
	}
	return nil
}
