package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chopstack/chopstack/internal/models"
)

// chopstackTmpDir is a dedicated temp directory for agent subprocesses.
// Editor integrations drop socket files into the default TMPDIR that crash
// the Claude CLI when settings overrides are passed.
var chopstackTmpDir string

func init() {
	chopstackTmpDir = filepath.Join(os.TempDir(), "chopstack-agent")
	os.MkdirAll(chopstackTmpDir, 0755)
}

// ClaudeAdapter runs tasks through the Claude CLI in streaming JSON mode.
// It follows the http.Client pattern: create once, use for many tasks.
// Safe for concurrent use; each Execute call owns its own subprocess.
type ClaudeAdapter struct {
	// Command is the CLI binary, defaulting to "claude" on PATH. It may
	// carry arguments ("claude --model sonnet"); the first field is the
	// executable.
	Command string
}

// NewClaudeAdapter creates an adapter invoking the given command line.
// An empty command defaults to "claude".
func NewClaudeAdapter(command string) *ClaudeAdapter {
	if command == "" {
		command = "claude"
	}
	return &ClaudeAdapter{Command: command}
}

// Name implements Adapter.
func (a *ClaudeAdapter) Name() string { return "claude" }

// IsAvailable implements Adapter by probing for the binary on PATH.
func (a *ClaudeAdapter) IsAvailable() bool {
	fields := strings.Fields(a.Command)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

// Execute implements Adapter. The prompt is written to the subprocess's
// standard input; stdout is parsed as line-delimited JSON into stream
// events; stderr is captured for the final result.
func (a *ClaudeAdapter) Execute(ctx context.Context, req Request, events chan<- models.StreamEvent) (*Result, error) {
	defer close(events)

	fields := strings.Fields(a.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("agent command is empty")
	}

	args := append(fields[1:],
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
	)

	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Dir = req.Workdir
	cmd.Stdin = strings.NewReader(req.Prompt)
	setCleanEnv(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %s: %w", fields[0], err)
	}

	// Reader goroutine: one line, one event. The wait below must not
	// return before the pipe is drained.
	var touched []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		touched = ReadStream(stdout, events)
	}()

	waitErr := cmd.Wait()
	wg.Wait()

	result := &Result{
		FilesChanged: touched,
		Stderr:       stderr.String(),
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("agent process failed: %w", waitErr)
	}
	return result, nil
}

// setCleanEnv points the subprocess at the dedicated temp directory.
func setCleanEnv(cmd *exec.Cmd) {
	cmd.Env = os.Environ()
	for i, env := range cmd.Env {
		if strings.HasPrefix(env, "TMPDIR=") {
			cmd.Env[i] = "TMPDIR=" + chopstackTmpDir
			return
		}
	}
	cmd.Env = append(cmd.Env, "TMPDIR="+chopstackTmpDir)
}
