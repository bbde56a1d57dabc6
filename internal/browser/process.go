package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/retry"

	"github.com/dhruvsoni1802/browser-usage-tracker/internal/cdp"
)

// ErrPortInUse means something already listens on the debug port
var ErrPortInUse = errors.New("debug port already in use")

type ProcessStatus string

const (
	StatusStarting ProcessStatus = "starting"
	StatusRunning  ProcessStatus = "running"
	StatusStopped  ProcessStatus = "stopped"
	StatusFailed   ProcessStatus = "failed"
)

type Process struct {
	BinaryPath  string        // Path to the chromium binary
	DebugPort   int           // Port for debugging
	UserDataDir string        // Directory for user data
	Headless    bool          // Run without a window, for tests and servers
	Cmd         *exec.Cmd     // Command to execute the chromium browser
	StartedAt   time.Time     // Time when the process started
	Status      ProcessStatus // Status of the process

	// Temp profiles are removed on Stop, user profiles are kept
	ownsDataDir bool
}

// NewProcess creates a browser process configuration on a fixed debug port.
// An empty userDataDir gets a throwaway temp profile.
func NewProcess(binaryPath string, debugPort int, userDataDir string) (*Process, error) {
	if !IsPortAvailable(strconv.Itoa(debugPort)) {
		return nil, fmt.Errorf("%w: %d", ErrPortInUse, debugPort)
	}

	owns := false
	if userDataDir == "" {
		dir, err := os.MkdirTemp("", "chromium-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		userDataDir = dir
		owns = true
	} else if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}

	return &Process{
		BinaryPath:  binaryPath,
		DebugPort:   debugPort,
		UserDataDir: userDataDir,
		Status:      StatusStarting,
		ownsDataDir: owns,
	}, nil
}

// buildFlags constructs the command-line flags for Chrome
func (p *Process) buildFlags() []string {
	flags := []string{
		fmt.Sprintf("--remote-debugging-port=%d", p.DebugPort), // Enable DevTools Protocol on this port
		fmt.Sprintf("--user-data-dir=%s", p.UserDataDir),       // Where browser stores its data
		"--no-first-run",
		"--no-default-browser-check",
	}
	if p.Headless {
		flags = append(flags,
			"--headless=new",          // Run in headless mode (no GUI)
			"--no-sandbox",            // Disable sandbox (needed in containers)
			"--disable-gpu",           // Disable GPU acceleration
			"--disable-dev-shm-usage", // Overcome limited resource problems
		)
	}
	return flags
}

// Start launches the browser process with appropriate flags
func (p *Process) Start() error {
	p.Cmd = exec.Command(p.BinaryPath, p.buildFlags()...)

	if err := p.Cmd.Start(); err != nil {
		p.Status = StatusFailed
		return fmt.Errorf("failed to start browser process: %w", err)
	}

	p.Status = StatusRunning
	p.StartedAt = time.Now()

	return nil
}

// WaitReady blocks until the debug endpoint answers
func (p *Process) WaitReady(ctx context.Context) error {
	port := strconv.Itoa(p.DebugPort)
	var lastErr error
	for r := retry.New(100*time.Millisecond, 2*time.Second); r.Wait(ctx); {
		_, err := cdp.GetWebSocketURL(ctx, "localhost", port)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.IsAlive() {
			p.Status = StatusFailed
			return fmt.Errorf("browser exited before debug port %d was ready", p.DebugPort)
		}
	}
	if lastErr != nil {
		return fmt.Errorf("debug port %d not ready: %w", p.DebugPort, lastErr)
	}
	return ctx.Err()
}

// Stop gracefully terminates the browser process
func (p *Process) Stop() error {
	// Check if process was ever started
	if p.Cmd == nil || p.Cmd.Process == nil {
		return fmt.Errorf("process was never started")
	}

	// Send SIGTERM for graceful shutdown
	if err := p.Cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to send termination signal: %w", err)
	}

	// Wait for process to exit with timeout
	done := make(chan error, 1)
	go func() {
		done <- p.Cmd.Wait()
	}()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return fmt.Errorf("process exit error: %w", err)
		}
	case <-time.After(5 * time.Second):
		// Timeout exceeded - force kill
		if err := p.Cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to force kill process: %w", err)
		}
		<-done
	}

	p.Status = StatusStopped

	if p.ownsDataDir {
		if err := os.RemoveAll(p.UserDataDir); err != nil {
			return fmt.Errorf("failed to remove user data directory: %w", err)
		}
	}

	return nil
}

// IsAlive checks if the process is still running
func (p *Process) IsAlive() bool {
	if p.Cmd == nil || p.Cmd.Process == nil {
		return false
	}
	if p.Cmd.ProcessState != nil {
		return false
	}

	// Send signal 0 - checks existence without affecting the process
	err := p.Cmd.Process.Signal(syscall.Signal(0))
	return err == nil
}

// GetPID returns the process ID if the process is running
func (p *Process) GetPID() int {
	if p.Cmd != nil && p.Cmd.Process != nil {
		return p.Cmd.Process.Pid
	}
	return 0
}

// GetDebugURL returns the Chrome DevTools Protocol URL
func (p *Process) GetDebugURL() string {
	return cdp.Endpoint("localhost", strconv.Itoa(p.DebugPort))
}
