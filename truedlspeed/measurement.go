package truedlspeed

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultDownloadURL = "https://speed.cloudflare.com/__down?bytes=1000000000"

	defaultUserAgent   = "truedlspeed"
	defaultChunkSize   = 8192
	defaultWindow      = time.Second
	defaultDialTimeout = 10 * time.Second
)

// ThroughputSampler streams a remote payload and reports how much of it
// arrived per window. The zero value is ready to use.
type ThroughputSampler struct {
	// Client defaults to NewHTTPClient("tcp", 10s). No overall timeout is
	// applied to the transfer; a silent server blocks until cancelled.
	Client    *http.Client
	UserAgent string
	ChunkSize int
	Window    time.Duration
	// Now is the monotonic clock used for window boundaries.
	Now    func() time.Time
	Logger *zerolog.Logger
}

var defaultClient = NewHTTPClient("tcp", defaultDialTimeout)

type ThroughputSession struct {
	*Session

	unit        atomic.Int32
	transferred atomic.Int64
}

// SetUnit changes the unit for windows closed from now on.
func (s *ThroughputSession) SetUnit(unit Unit) { s.unit.Store(int32(unit)) }

func (s *ThroughputSession) Unit() Unit { return Unit(s.unit.Load()) }

func (s *ThroughputSession) BytesTransferred() int64 { return s.transferred.Load() }

// NewHTTPClient returns a client whose dialer is pinned to protocol
// ("tcp", "tcp4" or "tcp6").
func NewHTTPClient(protocol string, dialTimeout time.Duration) *http.Client {
	// cf. https://go.googlesource.com/go/+/refs/tags/go1.22.1/src/net/http/transport.go#43
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext(ctx, protocol, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

func validateDownloadURL(targetURL string) (*url.URL, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, newSessionError(ErrInvalidTarget, err, "could not parse URL")
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, &SessionError{Kind: ErrInvalidTarget, Err: errors.Errorf("%q is not an http(s) URL", targetURL)}
	}
	return parsed, nil
}

// Start opens a download session against targetURL. Only argument errors
// are returned here; everything else reaches handlers.OnError.
func (t *ThroughputSampler) Start(ctx context.Context, targetURL string, unit Unit, handlers Handlers) (*ThroughputSession, error) {
	parsed, err := validateDownloadURL(targetURL)
	if err != nil {
		return nil, err
	}
	if unit != UnitMbps && unit != UnitMBps {
		return nil, &SessionError{Kind: ErrInvalidTarget, Err: errors.Errorf("unit %s is not a throughput unit", unit)}
	}

	session := &ThroughputSession{Session: newSession(ctx, KindThroughput, handlers, orNop(t.Logger))}
	session.SetUnit(unit)
	session.start(func(ctx context.Context) error {
		return t.run(ctx, session, parsed.String())
	})
	return session, nil
}

func (t *ThroughputSampler) run(ctx context.Context, session *ThroughputSession, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return newSessionError(ErrConnection, err, "could not build request")
	}
	req.Header.Set("User-Agent", t.userAgent())

	session.log.Info().Str("url", target).Msg("download started")
	resp, err := t.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelledByUser
		}
		return newSessionError(ErrConnection, err, "could not connect")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SessionError{Kind: ErrConnection, Err: errors.Errorf("server responded %s", resp.Status)}
	}
	session.log.Debug().
		Str("proto", resp.Proto).
		Int64("content_length", resp.ContentLength).
		Msg("download connected")

	err = t.stream(ctx, session, resp.Body)
	session.log.Info().Int64("bytes", session.BytesTransferred()).Msg("download finished")
	return err
}

// stream reads body chunk by chunk and emits one sample per closed window.
func (t *ThroughputSampler) stream(ctx context.Context, session *ThroughputSession, body io.Reader) error {
	now := t.clock()
	buf := make([]byte, t.chunkSize())
	counter := newWindowCounter(t.window(), now())

	for {
		if ctx.Err() != nil {
			return ErrCancelledByUser
		}
		size, err := body.Read(buf)
		session.transferred.Add(int64(size))
		if ctx.Err() != nil {
			return ErrCancelledByUser
		}

		if size > 0 || err == nil {
			at := now()
			if windowBytes, ok := counter.add(size, at); ok {
				unit := session.Unit()
				session.emit(Sample{
					Value:     ConvertWindowBytes(windowBytes, unit),
					Unit:      unit,
					Timestamp: at,
				})
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return newSessionError(ErrStreamRead, err, "download interrupted")
		}
	}
}

func (t *ThroughputSampler) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return defaultClient
}

func (t *ThroughputSampler) userAgent() string {
	if t.UserAgent != "" {
		return t.UserAgent
	}
	return defaultUserAgent
}

func (t *ThroughputSampler) chunkSize() int {
	if t.ChunkSize > 0 {
		return t.ChunkSize
	}
	return defaultChunkSize
}

func (t *ThroughputSampler) window() time.Duration {
	if t.Window > 0 {
		return t.Window
	}
	return defaultWindow
}

func (t *ThroughputSampler) clock() func() time.Time {
	if t.Now != nil {
		return t.Now
	}
	return time.Now
}
