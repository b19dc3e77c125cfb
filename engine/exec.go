package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/mailkite/filtra/logger"
	"github.com/mailkite/filtra/pkg/metrics"
)

// Environment variables set for commands invoked by a matched filter.
const (
	EnvFilterName = "FILTRA_FILTER_NAME"
	EnvFileName   = "FILTRA_FILE_NAME"
	EnvMessageID  = "FILTRA_MSG_ID"
)

// Runner spawns an external command and blocks until it exits. It is a
// separate collaborator so that tests can observe invocations without
// forking processes.
type Runner interface {
	Run(ctx context.Context, argv []string, extraEnv []string) error
}

// ExecRunner runs commands via os/exec. The first argv element is the
// executable, located via its absolute path or the search path; the rest
// are literal arguments with no shell expansion. The child inherits this
// process's environment plus the filtra variables, and its output goes to
// our stdout/stderr.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %q: %w", argv[0], err)
	}
	return nil
}

// execute applies a matched filter's operation to the message view: tag
// removal first, then addition (so add wins for a tag listed in both), then
// the external command, then deletion. Command and deletion failures are
// recorded on the result but never undo tag mutations already made.
func (e *Engine) execute(ctx context.Context, f *Filter, v *View, res *MessageResult) {
	name := f.DisplayName()
	tags := v.Tags()

	if f.Op.Rm.All {
		tags.Clear()
		metrics.OperationsTotal.WithLabelValues("rm_all", "ok").Inc()
	} else {
		for _, tag := range f.Op.Rm.Tags {
			tags.Remove(tag)
			metrics.OperationsTotal.WithLabelValues("rm", "ok").Inc()
		}
	}
	for _, tag := range f.Op.Add {
		tags.Add(tag)
		metrics.OperationsTotal.WithLabelValues("add", "ok").Inc()
	}

	if len(f.Op.Run) > 0 {
		env := []string{
			EnvFilterName + "=" + name,
			EnvFileName + "=" + v.msg.Path(),
			EnvMessageID + "=" + v.msg.ID(),
		}
		if err := e.runner.Run(ctx, f.Op.Run, env); err != nil {
			runErr := &RunError{Filter: name, Argv: f.Op.Run, Err: err}
			logger.Error("Filter command failed",
				"filter", name, "message", v.msg.ID(), "argv", f.Op.Run, "error", err)
			res.Errors = append(res.Errors, runErr)
			metrics.OperationsTotal.WithLabelValues("run", "failed").Inc()
		} else {
			metrics.OperationsTotal.WithLabelValues("run", "ok").Inc()
		}
	}

	if f.Op.Del {
		if err := os.Remove(v.msg.Path()); err != nil && !os.IsNotExist(err) {
			logger.Error("Filter failed to delete message file",
				"filter", name, "message", v.msg.ID(), "path", v.msg.Path(), "error", err)
			res.Errors = append(res.Errors, fmt.Errorf("filter %q: deleting %s: %w", name, v.msg.Path(), err))
			metrics.OperationsTotal.WithLabelValues("del", "failed").Inc()
			return
		}
		res.Deleted = true
		metrics.OperationsTotal.WithLabelValues("del", "ok").Inc()
	}
}
