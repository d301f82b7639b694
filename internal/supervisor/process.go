package supervisor

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/dreamware/fleetmesh/internal/model"
)

// Process is a running agent process. Launcher implementations return one
// per Launch call; Supervisor never shells out directly so tests can supply
// a fake.
type Process interface {
	// Wait blocks until the process exits and returns its error, mirroring
	// os/exec.Cmd.Wait.
	Wait() error
	// Signal sends a termination signal (SIGTERM on the first attempt).
	Signal(sig os.Signal) error
	// Kill forces termination (SIGKILL).
	Kill() error
	Pid() int
}

// Launcher starts the OS process for an agent. The default ExecLauncher
// runs AgentSpec.LaunchCmd; tests substitute a fake that never touches the
// OS.
type Launcher interface {
	Launch(ctx context.Context, spec model.AgentSpec) (Process, error)
}

// ExecLauncher runs LaunchCmd via os/exec, the same mechanism the fleet's
// legacy per-process mains invoked by hand.
type ExecLauncher struct {
	// Env is appended to os.Environ() for every launched process.
	Env []string
}

type execProcess struct {
	cmd *exec.Cmd
}

var sigterm os.Signal = syscall.SIGTERM

func (p *execProcess) Wait() error                { return p.cmd.Wait() }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Signal(syscall.SIGKILL) }
func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }

// Launch starts spec.LaunchCmd in its own process group so the supervisor
// can terminate it (and anything it spawns) as a unit.
func (l *ExecLauncher) Launch(ctx context.Context, spec model.AgentSpec) (Process, error) {
	if len(spec.LaunchCmd) == 0 {
		return nil, model.Wrap(model.KindFatal, spec.Name, "launch", errEmptyLaunchCmd)
	}
	cmd := exec.CommandContext(ctx, spec.LaunchCmd[0], spec.LaunchCmd[1:]...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env,
		"AGENT_NAME="+spec.Name,
		"AGENT_PORT="+strconv.Itoa(spec.Port),
		"HEALTH_CHECK_PORT="+strconv.Itoa(spec.HealthPort),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, model.Wrap(model.KindFatal, spec.Name, "start process", err)
	}
	return &execProcess{cmd: cmd}, nil
}

var errEmptyLaunchCmd = &launchCmdError{}

type launchCmdError struct{}

func (*launchCmdError) Error() string { return "launch_cmd is empty" }
