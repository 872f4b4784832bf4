package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/netsentry/netsentry/pkg/config"
	"github.com/netsentry/netsentry/pkg/nserrors"
	"github.com/rs/zerolog"
)

const stdoutChunkSize = 4096

// Status describes the capture session state.
type Status struct {
	Running   bool   `json:"running"`
	Interface string `json:"interface"`
}

// Session owns the lifecycle of the external capture subprocess: exactly
// one subprocess at a time, bound to a named network interface, emitting
// a continuous JSON packet stream on stdout. A subprocess that exits with
// a non-zero code while still expected to be running is restarted after a
// fixed backoff; the session is treated as a long-running service with no
// hard retry cap.
type Session struct {
	cfg    config.CaptureConfig
	logger zerolog.Logger
	emit   func(json.RawMessage)

	mu       sync.Mutex
	running  bool
	stopping bool
	iface    string
	cmd      *exec.Cmd
	restart  *time.Timer
}

// NewSession creates a capture session that feeds extracted frames to emit.
func NewSession(cfg config.CaptureConfig, logger zerolog.Logger, emit func(json.RawMessage)) *Session {
	return &Session{
		cfg:    cfg,
		logger: logger.With().Str("component", "capture").Logger(),
		emit:   emit,
	}
}

// Start launches the capture subprocess on the given interface. An empty
// interface name falls back to the configured one. Fails with
// ErrAlreadyRunning when a capture is active and ErrInterfaceRequired
// when no interface can be resolved.
func (s *Session) Start(ifaceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nserrors.ErrAlreadyRunning
	}

	// An operator start supersedes any restart still pending from a
	// crash.
	s.cancelRestartLocked()

	if ifaceName == "" {
		ifaceName = s.cfg.Interface
	}
	if ifaceName == "" {
		return nserrors.ErrInterfaceRequired
	}

	return s.launchLocked(ifaceName)
}

// launchLocked spawns the capture subprocess and its pump goroutines.
// Callers must hold mu.
func (s *Session) launchLocked(ifaceName string) error {
	cmd := exec.Command(s.cfg.TsharkPath, s.buildArgs(ifaceName)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.cfg.TsharkPath, err)
	}

	s.cmd = cmd
	s.iface = ifaceName
	s.running = true
	s.stopping = false

	s.logger.Info().Str("interface", ifaceName).Str("tool", s.cfg.TsharkPath).Msg("Capture started")

	extractor := NewFrameExtractor(s.logger, s.emit)
	go s.readStdout(stdout, extractor)
	go s.readStderr(stderr)
	go s.supervise(cmd, ifaceName)

	return nil
}

// Stop terminates the capture subprocess, or cancels a restart still
// pending after a crash. Fails with ErrNotRunning only when neither is
// the case.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		if s.restart != nil {
			s.cancelRestartLocked()
			s.stopping = true
			s.logger.Info().Str("interface", s.iface).Msg("Pending capture restart cancelled")
			return nil
		}
		return nserrors.ErrNotRunning
	}

	s.stopping = true
	s.running = false
	s.cancelRestartLocked()

	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Already gone or unkillable via TERM; force it.
			if killErr := s.cmd.Process.Kill(); killErr != nil {
				return nserrors.NewCaptureError("failed to terminate capture subprocess", killErr)
			}
		}
	}

	s.logger.Info().Str("interface", s.iface).Msg("Capture stopped")
	return nil
}

// Status reports whether a capture is active and on which interface.
// While stopped, the configured interface is reported.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	iface := s.iface
	if iface == "" {
		iface = s.cfg.Interface
	}
	return Status{Running: s.running, Interface: iface}
}

// buildArgs assembles the fixed command template:
// -i <interface> -T json -l [-f <filter>] [-c <limit>] -e <field>...
func (s *Session) buildArgs(ifaceName string) []string {
	args := []string{"-i", ifaceName, "-T", "json", "-l"}
	if s.cfg.Filter != "" {
		args = append(args, "-f", s.cfg.Filter)
	}
	if s.cfg.PacketLimit > 0 {
		args = append(args, "-c", strconv.Itoa(s.cfg.PacketLimit))
	}
	for _, field := range s.cfg.Fields {
		args = append(args, "-e", field)
	}
	return args
}

// readStdout pumps subprocess output into the frame extractor. The read
// loop never blocks on downstream work; emit callbacks must be cheap
// (channel sends or in-memory appends) so the subprocess pipe cannot
// back up.
func (s *Session) readStdout(stdout io.Reader, extractor *FrameExtractor) {
	buf := make([]byte, stdoutChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			extractor.Feed(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug().Err(err).Msg("Capture stdout closed")
			}
			return
		}
	}
}

// readStderr surfaces subprocess diagnostics as warnings, not failures.
func (s *Session) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.logger.Warn().Str("stderr", line).Msg("Capture subprocess diagnostic")
	}
}

// supervise waits for the subprocess and applies the restart policy:
// an unexpected exit schedules a restart after the configured backoff;
// an operator stop does not. The pending timer is tracked on the
// session so Stop can cancel it during the crash window.
func (s *Session) supervise(cmd *exec.Cmd, ifaceName string) {
	err := cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.stopping {
		return
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	s.logger.Error().Err(err).Int("exit_code", exitCode).Msg("Capture subprocess exited unexpectedly, scheduling restart")

	backoff := s.cfg.RestartBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	s.restart = time.AfterFunc(backoff, func() {
		s.attemptRestart(ifaceName)
	})
}

// attemptRestart relaunches the subprocess after a crash backoff unless
// an operator stopped or restarted the session in the meantime. The
// stopping check and the launch share one critical section so a
// concurrent Stop cannot lose the race to the revived capture.
func (s *Session) attemptRestart(ifaceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restart = nil
	if s.stopping || s.running {
		return
	}

	if err := s.launchLocked(ifaceName); err != nil {
		s.logger.Error().Err(err).Msg("Capture restart failed")
	}
}

// cancelRestartLocked clears any pending crash-restart timer. Callers
// must hold mu.
func (s *Session) cancelRestartLocked() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
}
