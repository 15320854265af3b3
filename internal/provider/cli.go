package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLIProvider shells out to a local binary that takes the prompt as its last
// argument and prints the completion.
type CLIProvider struct {
	binaryPath string
	args       []string
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       args,
	}, nil
}

func (p *CLIProvider) Name() string {
	return "cli"
}

// Chat folds the system prompt and the last user turn into one argument.
// Sampling options are not forwarded; the binary decides.
func (p *CLIProvider) Chat(ctx context.Context, messages []Message, _ Options) (*Response, error) {
	system, turns := splitSystem(messages)
	var prompt string
	if len(turns) > 0 {
		prompt = turns[len(turns)-1].Content
	}
	if system != "" {
		prompt = system + "\n\n" + prompt
	}

	fullArgs := append(append([]string{}, p.args...), prompt)
	cmd := exec.CommandContext(ctx, p.binaryPath, fullArgs...)

	output, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(output))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("cli provider timed out: %w", err)
		}
		return nil, fmt.Errorf("cli provider failed: %w\nOutput: %s", err, result)
	}

	return &Response{
		Content: result,
		Usage: Usage{
			TotalTokens: len(strings.Fields(result)),
		},
	}, nil
}
