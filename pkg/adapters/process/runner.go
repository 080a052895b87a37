// Package process runs allow-listed local commands as workflow node bodies.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/aretw0/pergola/pkg/state"
)

// EnvPrefix prefixes the state fields exported to a process environment.
const EnvPrefix = "PERGOLA_STATE_"

// ErrNotRegistered is returned when a node names a process that is not on
// the allow-list.
var ErrNotRegistered = errors.New("process not registered")

// Runner turns local processes into node bodies.
// It follows a Strict Registry pattern for security (Allow-Listing).
type Runner struct {
	registry map[string]RegisteredProcess
	baseDir  string
	logger   *slog.Logger
}

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(procs map[string]ProcessConfig) RunnerOption {
	return func(r *Runner) {
		for name, p := range procs {
			r.registry[name] = RegisteredProcess{Command: p.Command, Args: p.Args, Env: p.Environment}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]RegisteredProcess),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted script/command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = RegisteredProcess{
		Command: command,
		Args:    args,
	}
}

// Names lists the registered processes, sorted.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.registry))
	for name := range r.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Install registers every process as a node body of reg under its name.
func (r *Runner) Install(reg *registry.Registry) {
	for _, name := range r.Names() {
		reg.RegisterNode(name, r.Node(name))
	}
}

// Node returns a node body running the named process.
//
// The process receives the state snapshot as a JSON object on stdin, and
// every top-level scalar field as a PERGOLA_STATE_<FIELD> variable. Stdout
// must be empty (no update) or a JSON object, which becomes the node update.
// A non-zero exit fails the node with the captured stderr.
func (r *Runner) Node(name string) graph.NodeFunc {
	return func(ctx context.Context, v state.View) (domain.Result, error) {
		proc, ok := r.registry[name]
		if !ok {
			return domain.Result{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
		}

		values := v.Values()
		input, err := json.Marshal(values)
		if err != nil {
			return domain.Result{}, fmt.Errorf("failed to encode state: %w", err)
		}

		// Security: state values never become command flags.
		cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
		cmd.Dir = r.baseDir
		cmd.Env = append(cmd.Environ(), environment(proc.Env, values)...)
		cmd.Stdin = bytes.NewReader(input)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		r.logger.Debug("running process node", "process", name, "command", proc.Command)
		if err := cmd.Run(); err != nil {
			return domain.Result{}, fmt.Errorf("process %s failed: %w. Stderr: %s", name, err, strings.TrimSpace(stderr.String()))
		}

		output := bytes.TrimSpace(stdout.Bytes())
		if len(output) == 0 {
			return domain.Empty(), nil
		}
		var update state.Update
		if err := json.Unmarshal(output, &update); err != nil {
			return domain.Result{}, fmt.Errorf("process %s: stdout is not a JSON object: %w", name, err)
		}
		return domain.Patch(update), nil
	}
}

// environment builds the variables exported to a process: the configured
// ones, then scalar state fields.
func environment(static map[string]string, values map[string]any) []string {
	env := make([]string, 0, len(static)+len(values))
	for k, v := range static {
		env = append(env, k+"="+v)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var val string
		switch t := values[k].(type) {
		case string:
			val = t
		case float64, bool:
			val = fmt.Sprintf("%v", t)
		default:
			continue
		}
		env = append(env, EnvPrefix+strings.ToUpper(k)+"="+val)
	}
	return env
}
