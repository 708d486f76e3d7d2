package truedlspeed

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultLatencyTarget = "8.8.8.8"

	defaultKillDelay = 2 * time.Second
)

var defaultProbeCommand = []string{"ping"}

// LatencySampler runs a ping-like probe and reports every reply it prints.
// The zero value runs the system ping.
type LatencySampler struct {
	// ProbeCommand is the argv prefix; the target is appended as the last
	// argument.
	ProbeCommand []string
	// Env is added to the inherited environment of the probe.
	Env []string
	// KeepUnmatched also records lines without a round-trip time in the log.
	KeepUnmatched bool
	// KillDelay bounds how long a cancelled probe may take to exit before
	// it is killed outright.
	KillDelay time.Duration
	Logger    *zerolog.Logger
}

type LatencySession struct {
	*Session

	replies *LatencyLog
}

// Log returns a snapshot of the replies seen so far.
func (s *LatencySession) Log() []LatencyLogEntry { return s.replies.Entries() }

func (s *LatencySession) LogText() string { return s.replies.String() }

func validateProbeTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", &SessionError{Kind: ErrInvalidTarget, Err: errors.New("empty probe target")}
	}
	if strings.HasPrefix(target, "-") {
		return "", &SessionError{Kind: ErrInvalidTarget, Err: errors.Errorf("probe target %q looks like a flag", target)}
	}
	return target, nil
}

// Start launches the probe against target. Only argument errors are
// returned here; launch and read failures reach handlers.OnError.
func (l *LatencySampler) Start(ctx context.Context, target string, handlers Handlers) (*LatencySession, error) {
	target, err := validateProbeTarget(target)
	if err != nil {
		return nil, err
	}

	session := &LatencySession{
		Session: newSession(ctx, KindLatency, handlers, orNop(l.Logger)),
		replies: &LatencyLog{},
	}
	session.start(func(ctx context.Context) error {
		return l.run(ctx, session, target)
	})
	return session, nil
}

func (l *LatencySampler) run(ctx context.Context, session *LatencySession, target string) error {
	argv := append(append([]string{}, l.command()...), target)
	if ctx.Err() != nil {
		return ErrCancelledByUser
	}

	// stdout and stderr share the write end so their lines interleave as
	// the probe printed them.
	outputReader, outputWriter, err := os.Pipe()
	if err != nil {
		return newSessionError(ErrProbeLaunch, err, "could not create output pipe")
	}
	defer outputReader.Close()

	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()

	cmd := exec.CommandContext(probeCtx, argv[0], argv[1:]...)
	cmd.Stdout = outputWriter
	cmd.Stderr = outputWriter
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	cmd.WaitDelay = l.killDelay()
	prepareProbe(cmd)

	err = cmd.Start()
	outputWriter.Close()
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelledByUser
		}
		return newSessionError(ErrProbeLaunch, err, "could not start "+argv[0])
	}
	session.log.Info().Strs("argv", argv).Int("pid", cmd.Process.Pid).Msg("probe started")

	scanner := bufio.NewScanner(outputReader)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()
		reading, millis, ok := parseLatencyReading(line)
		if !ok {
			if l.KeepUnmatched {
				session.replies.append(LatencyLogEntry{Line: line})
			}
			continue
		}
		session.replies.append(LatencyLogEntry{Line: line, Reading: reading, Millis: millis, Matched: true})
		session.emit(Sample{
			Value:     millis,
			Unit:      UnitMillis,
			Timestamp: time.Now(),
		})
	}
	readErr := scanner.Err()

	// The output is gone one way or another; make sure the probe is too.
	stopProbe()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ErrCancelledByUser
	}
	if readErr != nil {
		return newSessionError(ErrStreamRead, readErr, "could not read probe output")
	}
	session.log.Debug().AnErr("exit", waitErr).Int("replies", session.replies.Len()).Msg("probe exited")
	return nil
}

func (l *LatencySampler) command() []string {
	if len(l.ProbeCommand) > 0 {
		return l.ProbeCommand
	}
	return defaultProbeCommand
}

func (l *LatencySampler) killDelay() time.Duration {
	if l.KillDelay > 0 {
		return l.KillDelay
	}
	return defaultKillDelay
}
