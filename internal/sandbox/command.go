package sandbox

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Command sandbox errors.
var (
	ErrEmptyCommand   = errors.New("command is empty")
	ErrBlockedCommand = errors.New("command matches a blocked pattern")
	ErrComposition    = errors.New("command uses a dangerous composition")
	ErrNotAllowed     = errors.New("command does not match any allowed pattern")
)

// blockPatterns deny catastrophic commands outright, before anything else.
var blockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*)\s+(/|/\S*\s*$|\*)`),
	regexp.MustCompile(`(?i)dd\s+.*of=/dev/(sd|hd|nvme|vd|mmcblk)`),
	regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(ba|z|da)?sh\b`),
	regexp.MustCompile(`(?i)\bnc\b.*\s-\w*e`),
	regexp.MustCompile(`(?i)\bsudo\s+(rm|dd|mkfs|fdisk)\b`),
	regexp.MustCompile(`(?i)\bsu\s+-`),
	regexp.MustCompile(`(?i)\bkill\s+-9\s+1\b`),
	regexp.MustCompile(`(?i)\bchmod\s+777\s+/\s*$`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`(?i)>\s*/dev/(sd|hd|nvme|vd)`),
}

// allowPatterns cover the common development tool surface. The first
// match wins.
var allowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^ls(\s|$)`),
	regexp.MustCompile(`^cat\s`),
	regexp.MustCompile(`^grep\s`),
	regexp.MustCompile(`^find\s`),
	regexp.MustCompile(`^git\s+(status|log|diff|show|branch|add|commit|checkout|switch|pull|fetch|stash|rev-parse)\b`),
	regexp.MustCompile(`^python3?(\s|$)`),
	regexp.MustCompile(`^node(\s|$)`),
	regexp.MustCompile(`^npm\s+(install|test|run|build|start)\b`),
	regexp.MustCompile(`^cargo\s+(new|build|test|run|check|init)\b`),
	regexp.MustCompile(`^go\s+(build|test|run|mod|vet|fmt)\b`),
	regexp.MustCompile(`^make(\s+(build|test|clean|all))?$`),
	regexp.MustCompile(`^(cut|tr|diff|awk|sed)\s`),
	regexp.MustCompile(`^(tar|gzip|gunzip|zip|unzip)\s`),
	regexp.MustCompile(`^(echo|printf)(\s|$)`),
	regexp.MustCompile(`^(pwd|whoami|date|uptime|uname)(\s|$)`),
}

// simpleSafeCommands may run bare with plain arguments even when no
// allow pattern matches.
var simpleSafeCommands = map[string]bool{
	"ls": true, "pwd": true, "whoami": true, "date": true,
	"uptime": true, "uname": true, "echo": true, "cat": true,
	"head": true, "tail": true, "wc": true, "sort": true, "uniq": true,
}

const shellSpecials = ";|&$`><*?[](){}"

// CommandSandbox screens shell commands through the block list, the
// composition screen, and the allow list, in that order.
type CommandSandbox struct{}

// NewCommandSandbox returns the command sandbox. All rule sets are fixed
// at compile time and safely shared.
func NewCommandSandbox() *CommandSandbox {
	return &CommandSandbox{}
}

// IsAllowed reports whether the command passes every screen.
func (s *CommandSandbox) IsAllowed(command string) bool {
	return s.Check(command) == nil
}

// Check returns nil when the command is allowed, or an error naming the
// rule that rejected it.
func (s *CommandSandbox) Check(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ErrEmptyCommand
	}
	for _, pattern := range blockPatterns {
		if pattern.MatchString(trimmed) {
			return fmt.Errorf("%w: %s", ErrBlockedCommand, pattern.String())
		}
	}
	if err := screenComposition(trimmed); err != nil {
		return err
	}
	for _, pattern := range allowPatterns {
		if pattern.MatchString(trimmed) {
			return nil
		}
	}
	if isSimpleSafe(trimmed) {
		return nil
	}
	return ErrNotAllowed
}

// screenComposition rejects command chaining and environment games that
// individual block patterns cannot anticipate.
func screenComposition(command string) error {
	if strings.Count(command, ";") > 1 {
		return fmt.Errorf("%w: multiple command separators", ErrComposition)
	}
	if strings.Count(command, "|") > 2 {
		return fmt.Errorf("%w: too many pipes", ErrComposition)
	}
	if strings.Contains(command, "`") || strings.Contains(command, "$(") {
		return fmt.Errorf("%w: command substitution", ErrComposition)
	}
	if redirectTarget.MatchString(command) {
		return fmt.Errorf("%w: redirection into a device path", ErrComposition)
	}
	if strings.Count(command, "&") > 1 {
		return fmt.Errorf("%w: multiple background operators", ErrComposition)
	}
	for _, name := range []string{"$PATH", "$LD_LIBRARY_PATH", "$HOME", "$SHELL"} {
		if strings.Contains(command, name) {
			return fmt.Errorf("%w: substitution of %s", ErrComposition, name)
		}
	}
	return nil
}

var redirectTarget = regexp.MustCompile(`>\s*/(dev|proc)/`)

// isSimpleSafe allows a bare invocation of a known-safe binary whose
// arguments carry no shell machinery at all.
func isSimpleSafe(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 || !simpleSafeCommands[fields[0]] {
		return false
	}
	for _, arg := range fields[1:] {
		if strings.ContainsAny(arg, shellSpecials) {
			return false
		}
	}
	return true
}
