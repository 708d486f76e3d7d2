package truedlspeed

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

func newTestDashboard(t *testing.T, engine *SmoothingEngine) *Dashboard {
	t.Helper()
	return NewDashboard(&ThroughputSampler{Window: 10 * time.Millisecond}, helperProbeSampler(), engine)
}

func TestDashboard_RestartingDownloadStopsThePreviousOne(t *testing.T) {
	server := newStreamingServer(t)
	dashboard := newTestDashboard(t, nil)

	first, err := dashboard.StartDownload(context.Background(), server.URL, UnitMbps, Handlers{})
	assert.NilError(t, err)
	assert.Equal(t, dashboard.Download(), first)

	second, err := dashboard.StartDownload(context.Background(), server.URL, UnitMBps, Handlers{})
	assert.NilError(t, err)
	assert.Equal(t, first.State(), StateStopped)
	assert.Equal(t, first.Outcome(), OutcomeCancelled)
	assert.Equal(t, dashboard.Download(), second)
	assert.Equal(t, second.State(), StateRunning)

	assert.Equal(t, dashboard.StopDownload(), second)
	assert.NilError(t, second.Wait())
	assert.Equal(t, second.Outcome(), OutcomeCancelled)
}

func TestDashboard_StopWithoutSession(t *testing.T) {
	dashboard := NewDashboard(nil, nil, nil)

	assert.Assert(t, dashboard.StopDownload() == nil)
	assert.Assert(t, dashboard.StopPing() == nil)
	assert.Equal(t, dashboard.PingLog(), "")
}

func TestDashboard_InvalidTargetKeepsCurrentSlotEmpty(t *testing.T) {
	dashboard := newTestDashboard(t, nil)

	_, err := dashboard.StartDownload(context.Background(), "not a url", UnitMbps, Handlers{})
	assert.Assert(t, err != nil)
	assert.Assert(t, dashboard.Download() == nil)

	_, err = dashboard.StartPing(context.Background(), "-f", Handlers{})
	assert.Assert(t, err != nil)
	assert.Assert(t, dashboard.Ping() == nil)
}

func TestDashboard_EngineFollowsDownload(t *testing.T) {
	server := newStreamingServer(t)
	engine, err := NewSmoothingEngine(SmoothingOptions{Manual: true})
	assert.NilError(t, err)
	dashboard := newTestDashboard(t, engine)

	events := &handlerLog{}
	session, err := dashboard.StartDownload(context.Background(), server.URL, UnitMBps, events.handlers())
	assert.NilError(t, err)
	waitForSamples(t, events, 1)
	assert.Assert(t, engine.Target() > 0)

	dashboard.StopDownload()
	assert.NilError(t, session.Wait())
	assert.Equal(t, engine.Target(), 0.0)
	_, outcomes := events.terminal()
	assert.DeepEqual(t, outcomes, []Outcome{OutcomeCancelled})
}

func TestDashboard_KindsAreIndependent(t *testing.T) {
	server := newStreamingServer(t)
	dashboard := newTestDashboard(t, nil)

	pings := &handlerLog{}
	ping, err := dashboard.StartPing(context.Background(), "forever", pings.handlers())
	assert.NilError(t, err)
	download, err := dashboard.StartDownload(context.Background(), server.URL, UnitMbps, Handlers{})
	assert.NilError(t, err)

	dashboard.StopDownload()
	assert.NilError(t, download.Wait())
	assert.Equal(t, ping.State(), StateRunning)

	count := pings.sampleCount()
	waitForSamples(t, pings, count+2)

	dashboard.StopPing()
	assert.NilError(t, ping.Wait())
	assert.Equal(t, ping.Outcome(), OutcomeCancelled)
}

func TestDashboard_EachPingSessionStartsAFreshLog(t *testing.T) {
	dashboard := newTestDashboard(t, nil)

	first, err := dashboard.StartPing(context.Background(), "finite", Handlers{})
	assert.NilError(t, err)
	assert.NilError(t, first.Wait())
	assert.Equal(t, dashboard.PingLog(), "Ping: 23.4ms\nPing: 7.5ms\nPing: 11ms\n")

	second, err := dashboard.StartPing(context.Background(), "unreachable", Handlers{})
	assert.NilError(t, err)
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if second.State() != StateStopped {
			return poll.Continue("ping session still %s", second.State())
		}
		return poll.Success()
	}, poll.WithTimeout(10*time.Second))

	assert.Equal(t, dashboard.PingLog(), "")
	assert.Equal(t, first.LogText(), "Ping: 23.4ms\nPing: 7.5ms\nPing: 11ms\n")
}

func TestDashboard_HandlersMayReadTheSlotDuringRestart(t *testing.T) {
	server := newStreamingServer(t)
	dashboard := newTestDashboard(t, nil)

	var seenDownload *ThroughputSession
	first, err := dashboard.StartDownload(context.Background(), server.URL, UnitMbps, Handlers{
		OnDone: func(Outcome) { seenDownload = dashboard.Download() },
	})
	assert.NilError(t, err)

	var seenLog string
	ping, err := dashboard.StartPing(context.Background(), "forever", Handlers{
		OnDone: func(Outcome) { seenLog = dashboard.PingLog() },
	})
	assert.NilError(t, err)

	restarted := make(chan struct{})
	go func() {
		defer close(restarted)
		_, _ = dashboard.StartDownload(context.Background(), server.URL, UnitMbps, Handlers{})
		_, _ = dashboard.StartPing(context.Background(), "finite", Handlers{})
	}()
	select {
	case <-restarted:
	case <-time.After(10 * time.Second):
		t.Fatal("restart blocked on a handler reading the dashboard")
	}

	assert.Equal(t, seenDownload, first)
	assert.Equal(t, first.Outcome(), OutcomeCancelled)
	assert.Equal(t, ping.Outcome(), OutcomeCancelled)
	assert.Equal(t, seenLog, ping.LogText())

	dashboard.StopDownload()
	assert.NilError(t, dashboard.Download().Wait())
	assert.NilError(t, dashboard.Ping().Wait())
}
