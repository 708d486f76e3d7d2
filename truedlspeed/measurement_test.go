package truedlspeed

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"
)

// steppedClock returns start+offsets[i] on its i-th call, repeating the last
// offset once they run out.
func steppedClock(start time.Time, offsets ...time.Duration) func() time.Time {
	calls := 0
	return func() time.Time {
		offset := offsets[len(offsets)-1]
		if calls < len(offsets) {
			offset = offsets[calls]
		}
		calls++
		return start.Add(offset)
	}
}

// newStreamingServer serves an endless body until the client goes away.
func newStreamingServer(t *testing.T) *httptest.Server {
	chunk := make([]byte, 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newStatusServer(t *testing.T, status int) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

func newThroughputSession(handlers Handlers, unit Unit) *ThroughputSession {
	session := &ThroughputSession{Session: newSession(context.Background(), KindThroughput, handlers, zerolog.Nop())}
	session.SetUnit(unit)
	return session
}

func waitForSamples(t *testing.T, events *handlerLog, n int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := events.sampleCount(); got < n {
			return poll.Continue("%d of %d samples", got, n)
		}
		return poll.Success()
	}, poll.WithTimeout(10*time.Second), poll.WithDelay(5*time.Millisecond))
}

func TestStream_TwoMegabytesInOneWindow(t *testing.T) {
	start := time.Now()
	events := &handlerLog{}
	sampler := &ThroughputSampler{
		ChunkSize: 1_000_000,
		Now:       steppedClock(start, 0, 500*time.Millisecond, time.Second),
	}
	session := newThroughputSession(events.handlers(), UnitMbps)

	err := sampler.stream(context.Background(), session, bytes.NewReader(make([]byte, 2_000_000)))

	assert.NilError(t, err)
	assert.DeepEqual(t, events.samples, []Sample{
		{Value: 16, Unit: UnitMbps, Timestamp: start.Add(time.Second)},
	})
	assert.Equal(t, session.BytesTransferred(), int64(2_000_000))
}

func TestStream_TrailingPartialWindowIsDiscarded(t *testing.T) {
	start := time.Now()
	events := &handlerLog{}
	sampler := &ThroughputSampler{
		ChunkSize: 1_000_000,
		Now:       steppedClock(start, 0, 500*time.Millisecond, time.Second, 1200*time.Millisecond),
	}
	session := newThroughputSession(events.handlers(), UnitMBps)

	err := sampler.stream(context.Background(), session, bytes.NewReader(make([]byte, 2_500_000)))

	assert.NilError(t, err)
	assert.DeepEqual(t, events.values(), []float64{2})
	assert.Equal(t, session.BytesTransferred(), int64(2_500_000))
}

func TestStream_UnitSwitchAppliesToNextWindow(t *testing.T) {
	start := time.Now()
	values := []float64{}
	units := []Unit{}
	var session *ThroughputSession
	session = newThroughputSession(Handlers{
		OnSample: func(sample Sample) {
			values = append(values, sample.Value)
			units = append(units, sample.Unit)
			session.SetUnit(UnitMBps)
		},
	}, UnitMbps)
	sampler := &ThroughputSampler{
		ChunkSize: 1_000_000,
		Now:       steppedClock(start, 0, time.Second, 2*time.Second, 3*time.Second),
	}

	err := sampler.stream(context.Background(), session, bytes.NewReader(make([]byte, 3_000_000)))

	assert.NilError(t, err)
	assert.DeepEqual(t, values, []float64{8, 1, 1})
	assert.DeepEqual(t, units, []Unit{UnitMbps, UnitMBps, UnitMBps})
}

func TestThroughputSampler_Completes(t *testing.T) {
	var userAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write(make([]byte, 65536))
	}))
	defer server.Close()

	events := &handlerLog{}
	sampler := &ThroughputSampler{Client: server.Client(), UserAgent: "truedlspeed-test"}
	session, err := sampler.Start(context.Background(), server.URL, UnitMbps, events.handlers())
	assert.NilError(t, err)
	assert.NilError(t, session.Wait())

	assert.Equal(t, session.State(), StateStopped)
	assert.Equal(t, session.Outcome(), OutcomeCompleted)
	assert.Equal(t, session.BytesTransferred(), int64(65536))
	assert.Equal(t, userAgent.Load(), "truedlspeed-test")
	errs, outcomes := events.terminal()
	assert.Equal(t, len(errs), 0)
	assert.DeepEqual(t, outcomes, []Outcome{OutcomeCompleted})
}

func TestThroughputSampler_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/payload", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1000))
	})
	mux.Handle("/", http.RedirectHandler("/payload", http.StatusFound))
	server := httptest.NewServer(mux)
	defer server.Close()

	session, err := (&ThroughputSampler{}).Start(context.Background(), server.URL+"/start", UnitMbps, Handlers{})
	assert.NilError(t, err)
	assert.NilError(t, session.Wait())
	assert.Equal(t, session.BytesTransferred(), int64(1000))
}

func TestThroughputSampler_RejectedByServer(t *testing.T) {
	server := newStatusServer(t, http.StatusNotFound)

	events := &handlerLog{}
	session, err := (&ThroughputSampler{}).Start(context.Background(), server.URL, UnitMbps, events.handlers())
	assert.NilError(t, err)
	err = session.Wait()

	assert.Assert(t, errors.Is(err, ErrConnection))
	assert.ErrorContains(t, err, "404")
	assert.Equal(t, session.Outcome(), OutcomeFailed)
	errs, outcomes := events.terminal()
	assert.Equal(t, len(errs), 1)
	assert.Equal(t, len(outcomes), 0)
}

func TestThroughputSampler_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	session, err := (&ThroughputSampler{}).Start(context.Background(), url, UnitMbps, Handlers{})
	assert.NilError(t, err)

	assert.Assert(t, errors.Is(session.Wait(), ErrConnection))
}

func TestThroughputSampler_MidStreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write(make([]byte, 1000))
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	session, err := (&ThroughputSampler{}).Start(context.Background(), server.URL, UnitMbps, Handlers{})
	assert.NilError(t, err)
	err = session.Wait()

	assert.Assert(t, errors.Is(err, ErrStreamRead))
	assert.Equal(t, session.Outcome(), OutcomeFailed)
}

func TestThroughputSampler_InvalidTarget(t *testing.T) {
	sampler := &ThroughputSampler{}
	for _, target := range []string{"ftp://example.com/file", "example.com/file", "http://", "://"} {
		session, err := sampler.Start(context.Background(), target, UnitMbps, Handlers{})
		assert.Assert(t, errors.Is(err, ErrInvalidTarget), target)
		assert.Assert(t, session == nil, target)
	}

	_, err := sampler.Start(context.Background(), "https://example.com/", UnitMillis, Handlers{})
	assert.Assert(t, errors.Is(err, ErrInvalidTarget))
}

func TestThroughputSampler_CancelMidStream(t *testing.T) {
	server := newStreamingServer(t)

	events := &handlerLog{}
	sampler := &ThroughputSampler{Window: 10 * time.Millisecond}
	session, err := sampler.Start(context.Background(), server.URL, UnitMbps, events.handlers())
	assert.NilError(t, err)
	waitForSamples(t, events, 2)

	session.Cancel()
	session.Cancel()
	assert.NilError(t, session.Wait())
	session.Cancel()

	count := events.sampleCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, events.sampleCount(), count)
	assert.Equal(t, session.State(), StateStopped)
	assert.Equal(t, session.Outcome(), OutcomeCancelled)
	errs, outcomes := events.terminal()
	assert.Equal(t, len(errs), 0)
	assert.DeepEqual(t, outcomes, []Outcome{OutcomeCancelled})
}
