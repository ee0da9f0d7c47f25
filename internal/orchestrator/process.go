package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/deadhold/backend/internal/config"
)

// Process is a tracked match-server child. The orchestrator only needs
// liveness, polite/forced termination, and the exit code; tests substitute
// fakes through the launch seam.
type Process interface {
	Pid() int
	Terminate() error // polite shutdown request
	Kill() error      // force-kill the process tree
	Done() <-chan struct{}
	ExitCode() int // valid once Done is closed
}

// LaunchFunc starts one match-server process listening on port.
type LaunchFunc func(cfg config.OrchestratorConfig, port int, backendHost string, backendPort int) (Process, error)

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// launchProcess is the production LaunchFunc. The child gets its own process
// group so Kill can take down any engine subprocesses with it.
func launchProcess(cfg config.OrchestratorConfig, port int, backendHost string, backendPort int) (Process, error) {
	args := []string{"--headless"}
	if cfg.ProjectPath != "" {
		args = append(args, "--path", cfg.ProjectPath)
	}
	cmd := exec.Command(cfg.Executable, args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("GAME_PORT=%d", port),
		fmt.Sprintf("BACKEND_HOST=%s", backendHost),
		fmt.Sprintf("BACKEND_PORT=%d", backendPort),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Executable, err)
	}

	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProcess) Kill() error {
	// Negative pid targets the process group created at launch.
	return syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
}

func (p *osProcess) Done() <-chan struct{} {
	return p.done
}

func (p *osProcess) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}
