// Package shell runs approved workspace commands. Commands never pass
// through a shell: the command line is split into argv with POSIX word
// rules and executed directly, under a minimal environment and a hard
// wall-clock timeout.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gambiarra-ai/gambiarra/pkg/models"
	"github.com/gambiarra-ai/gambiarra/pkg/protocol"
)

// DefaultTimeout bounds command wall-clock time when the caller does not
// supply one.
const DefaultTimeout = 30 * time.Second

// maxCapturedOutput caps the stdout/stderr retained in the result.
const maxCapturedOutput = 64000

// passthroughEnv is the minimal environment handed to child processes.
var passthroughEnv = []string{"PATH", "HOME", "USER", "SHELL", "TERM", "LANG"}

// optionalEnv is forwarded only when present in the parent environment.
var optionalEnv = []string{"PYTHON_PATH", "NODE_PATH", "JAVA_HOME", "CARGO_HOME"}

// OutputLine is one streamed line of child output.
type OutputLine struct {
	Stream string // "stdout" or "stderr"
	Text   string
}

// Runner executes commands inside a working directory.
type Runner struct {
	workdir string
	// OnOutput, when set, receives each output line as it is produced.
	OnOutput func(OutputLine)
}

// NewRunner creates a runner rooted at workdir.
func NewRunner(workdir string) *Runner {
	return &Runner{workdir: workdir}
}

// Run executes the command line and returns a uniform tool result.
// A zero timeout means DefaultTimeout.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) *models.ToolResult {
	argv, err := SplitWords(command)
	if err != nil {
		return models.ErrorResult(protocol.ErrCodeCommandError,
			fmt.Sprintf("parse command: %v", err))
	}
	if len(argv) == 0 {
		return models.ErrorResult(protocol.ErrCodeCommandError, "command is empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = r.workdir
	cmd.Env = minimalEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return models.ErrorResult(protocol.ErrCodeCommandError, fmt.Sprintf("stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return models.ErrorResult(protocol.ErrCodeCommandError, fmt.Sprintf("stderr pipe: %v", err))
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return models.ErrorResult(protocol.ErrCodeCommandError, fmt.Sprintf("start %q: %v", argv[0], err))
	}

	var wg sync.WaitGroup
	var outBuf, errBuf strings.Builder
	wg.Add(2)
	go r.drain(&wg, stdout, "stdout", &outBuf)
	go r.drain(&wg, stderr, "stderr", &errBuf)
	wg.Wait()
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		result := models.ErrorResult(protocol.ErrCodeCommandTimeout,
			fmt.Sprintf("command timed out after %s", timeout))
		result.Metadata = commandMetadata(command, -1, elapsed, outBuf.String(), errBuf.String())
		return result
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return models.ErrorResult(protocol.ErrCodeCommandError,
				fmt.Sprintf("run %q: %v", command, waitErr))
		}
	}

	if exitCode != 0 {
		result := models.ErrorResult(protocol.ErrCodeCommandError,
			fmt.Sprintf("command exited with status %d", exitCode))
		result.Metadata = commandMetadata(command, exitCode, elapsed, outBuf.String(), errBuf.String())
		return result
	}

	result := models.SuccessResult(outBuf.String())
	result.Metadata = commandMetadata(command, exitCode, elapsed, outBuf.String(), errBuf.String())
	return result
}

func (r *Runner) drain(wg *sync.WaitGroup, pipe io.Reader, stream string, buf *strings.Builder) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if r.OnOutput != nil {
			r.OnOutput(OutputLine{Stream: stream, Text: line})
		}
		if buf.Len() < maxCapturedOutput {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
}

func commandMetadata(command string, exitCode int, elapsed time.Duration, stdout, stderr string) map[string]any {
	return map[string]any{
		"command":     command,
		"exit_code":   exitCode,
		"duration_ms": elapsed.Milliseconds(),
		"stdout":      stdout,
		"stderr":      stderr,
	}
}

// minimalEnv builds the child environment from the fixed passthrough
// list plus optional toolchain variables that happen to be set.
func minimalEnv() []string {
	env := make([]string, 0, len(passthroughEnv)+len(optionalEnv))
	for _, name := range passthroughEnv {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	for _, name := range optionalEnv {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}

// SplitWords splits a command line into argv using POSIX shell word
// rules: whitespace separates words; single quotes preserve everything;
// double quotes preserve everything except \" and \\ escapes; a bare
// backslash escapes the next character. No expansion of any kind.
func SplitWords(command string) ([]string, error) {
	var words []string
	var current strings.Builder
	inWord := false

	flush := func() {
		if inWord {
			words = append(words, current.String())
			current.Reset()
			inWord = false
		}
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\'':
			inWord = true
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '\'' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, errors.New("unterminated single quote")
			}
			current.WriteString(string(runes[i+1 : end]))
			i = end
		case c == '"':
			inWord = true
			j := i + 1
			closed := false
			for j < len(runes) {
				if runes[j] == '\\' && j+1 < len(runes) && (runes[j+1] == '"' || runes[j+1] == '\\') {
					current.WriteRune(runes[j+1])
					j += 2
					continue
				}
				if runes[j] == '"' {
					closed = true
					break
				}
				current.WriteRune(runes[j])
				j++
			}
			if !closed {
				return nil, errors.New("unterminated double quote")
			}
			i = j
		case c == '\\':
			if i+1 >= len(runes) {
				return nil, errors.New("trailing backslash")
			}
			inWord = true
			current.WriteRune(runes[i+1])
			i++
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			inWord = true
			current.WriteRune(c)
		}
	}
	flush()
	return words, nil
}
