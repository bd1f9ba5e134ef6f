package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Environment variables an ExecLauncher passes to the child process.
const (
	EnvExperimentID = "MLPANEL_EXPERIMENT_ID"
	EnvParentRunID  = "MLPANEL_PARENT_RUN_ID"
)

// Invocation is one request to run an entry point.
type Invocation struct {
	ConfigPath   string
	ExperimentID string
	ParentRunID  string
}

// InvocationFromEnv reads the experiment and parent run ids set by an
// ExecLauncher.
func InvocationFromEnv(configPath string) Invocation {
	return Invocation{
		ConfigPath:   configPath,
		ExperimentID: os.Getenv(EnvExperimentID),
		ParentRunID:  os.Getenv(EnvParentRunID),
	}
}

// Launcher runs an entry point by name.
type Launcher interface {
	Launch(ctx context.Context, entry string, inv Invocation) error
}

// EntryParam returns the flag name carrying the config path for entry.
func EntryParam(entry string) (string, error) {
	if entry == EntryMain {
		return "config", nil
	}
	st, err := LookupStage(entry)
	if err != nil {
		return "", err
	}
	return st.Param, nil
}

// LocalLauncher runs entry points in the current process.
type LocalLauncher struct {
	Env *Env
}

func (l *LocalLauncher) Launch(ctx context.Context, entry string, inv Invocation) error {
	env := l.Env.withDefaults()
	env.ExperimentID = inv.ExperimentID
	env.ParentRunID = inv.ParentRunID

	if entry == EntryMain {
		wf := &Workflow{
			Tracking:     env.Tracking,
			Launcher:     l,
			Log:          env.Log,
			ExperimentID: inv.ExperimentID,
		}
		return wf.Run(ctx, inv.ConfigPath)
	}
	st, err := LookupStage(entry)
	if err != nil {
		return err
	}
	return Execute(ctx, st, inv.ConfigPath, env)
}

// ExecLauncher re-executes a binary as "<bin> [args] <entry> --<param> <path>".
type ExecLauncher struct {
	Binary string   // empty means the running executable
	Args   []string // global flags placed before the entry point
	Stdout io.Writer
	Stderr io.Writer
}

func (l *ExecLauncher) Launch(ctx context.Context, entry string, inv Invocation) error {
	param, err := EntryParam(entry)
	if err != nil {
		return err
	}
	bin := l.Binary
	if bin == "" {
		if bin, err = os.Executable(); err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}
	args := append(append([]string{}, l.Args...), entry, "--"+param, inv.ConfigPath)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout, cmd.Stderr = l.Stdout, l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = append(os.Environ(),
		EnvExperimentID+"="+inv.ExperimentID,
		EnvParentRunID+"="+inv.ParentRunID,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", entry, err)
	}
	return nil
}
