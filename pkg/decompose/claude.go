package decompose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ClaudeCLI generates with the Claude Code CLI in print mode.
type ClaudeCLI struct {
	Dir   string
	Model string
	// Bin overrides the executable, "claude" by default.
	Bin string
}

// Generate runs `claude -p <prompt> --output-format json` and returns the
// result field.
func (c ClaudeCLI) Generate(ctx context.Context, prompt string) (string, error) {
	bin := c.Bin
	if bin == "" {
		bin = "claude"
	}
	args := []string{"-p", prompt, "--output-format", "json"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.Dir
	// Drop CLAUDECODE so the child does not detect a nested session.
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "CLAUDECODE=") {
			cmd.Env = append(cmd.Env, env)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("claude exited %d: %s", exitErr.ExitCode(), truncate(stderr.String(), 500))
		}
		return "", fmt.Errorf("run claude: %w", err)
	}

	var parsed struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return stdout.String(), nil
	}
	return parsed.Result, nil
}
