package truedlspeed

import (
	"context"
	"sync"
)

// Dashboard is what a front end drives: one download slot and one ping
// slot, each holding at most one session. The two kinds never affect each
// other.
type Dashboard struct {
	Throughput *ThroughputSampler
	Latency    *LatencySampler
	// Engine, when set, follows the download in Mbps and falls back to
	// zero when the download stops.
	Engine *SmoothingEngine

	// startDownloadMu serialises restarts; downloadMu only guards the slot,
	// so handlers may read it while a restart waits on the old session.
	startDownloadMu sync.Mutex
	downloadMu      sync.Mutex
	download        *ThroughputSession

	startPingMu sync.Mutex
	pingMu      sync.Mutex
	ping        *LatencySession
}

func NewDashboard(throughput *ThroughputSampler, latency *LatencySampler, engine *SmoothingEngine) *Dashboard {
	if throughput == nil {
		throughput = &ThroughputSampler{}
	}
	if latency == nil {
		latency = &LatencySampler{}
	}
	return &Dashboard{
		Throughput: throughput,
		Latency:    latency,
		Engine:     engine,
	}
}

// StartDownload stops the current download, waits until it has released
// its connection, then starts a new one. Handlers must not call
// StartDownload themselves.
func (d *Dashboard) StartDownload(ctx context.Context, targetURL string, unit Unit, handlers Handlers) (*ThroughputSession, error) {
	d.startDownloadMu.Lock()
	defer d.startDownloadMu.Unlock()

	if previous := d.StopDownload(); previous != nil {
		_ = previous.Wait()
	}

	session, err := d.Throughput.Start(ctx, targetURL, unit, d.followWithEngine(handlers))
	if err != nil {
		return nil, err
	}
	d.downloadMu.Lock()
	d.download = session
	d.downloadMu.Unlock()
	return session, nil
}

// StopDownload cancels the current download, if any, and returns it so the
// caller can Wait on it.
func (d *Dashboard) StopDownload() *ThroughputSession {
	d.downloadMu.Lock()
	defer d.downloadMu.Unlock()

	if d.download != nil {
		d.download.Cancel()
	}
	return d.download
}

func (d *Dashboard) Download() *ThroughputSession {
	d.downloadMu.Lock()
	defer d.downloadMu.Unlock()
	return d.download
}

// StartPing stops the current ping session and starts a new one with an
// empty log. Handlers must not call StartPing themselves.
func (d *Dashboard) StartPing(ctx context.Context, target string, handlers Handlers) (*LatencySession, error) {
	d.startPingMu.Lock()
	defer d.startPingMu.Unlock()

	if previous := d.StopPing(); previous != nil {
		_ = previous.Wait()
	}

	session, err := d.Latency.Start(ctx, target, handlers)
	if err != nil {
		return nil, err
	}
	d.pingMu.Lock()
	d.ping = session
	d.pingMu.Unlock()
	return session, nil
}

func (d *Dashboard) StopPing() *LatencySession {
	d.pingMu.Lock()
	defer d.pingMu.Unlock()

	if d.ping != nil {
		d.ping.Cancel()
	}
	return d.ping
}

func (d *Dashboard) Ping() *LatencySession {
	d.pingMu.Lock()
	defer d.pingMu.Unlock()
	return d.ping
}

// PingLog renders the log of the latest ping session.
func (d *Dashboard) PingLog() string {
	if session := d.Ping(); session != nil {
		return session.LogText()
	}
	return ""
}

func (d *Dashboard) followWithEngine(handlers Handlers) Handlers {
	engine := d.Engine
	if engine == nil {
		return handlers
	}
	return Handlers{
		OnSample: func(sample Sample) {
			if handlers.OnSample != nil {
				handlers.OnSample(sample)
			}
			engine.SetTarget(NormalizeToMbps(sample))
		},
		OnError: func(err error) {
			engine.SetTarget(0)
			if handlers.OnError != nil {
				handlers.OnError(err)
			}
		},
		OnDone: func(outcome Outcome) {
			engine.SetTarget(0)
			if handlers.OnDone != nil {
				handlers.OnDone(outcome)
			}
		},
	}
}
