package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rileyhilliard/rx/internal/errors"
)

// notFoundPatterns match "command not found" from common shells. They only
// count with exit status 127.
var notFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bash: (\S+): command not found`),
	regexp.MustCompile(`(?i)zsh: command not found: (\S+)`),
	regexp.MustCompile(`(?i)sh: \d+: (\S+): not found`),
	regexp.MustCompile(`(?i)-bash: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)(\S+): not found`),
	regexp.MustCompile(`(?i)(\S+): command not found`),
}

// dependencyPatterns match a tool failing because something it runs is
// missing, whatever the exit status.
var dependencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)make: (\S+): No such file or directory`),
	regexp.MustCompile(`(?i)/bin/sh: (\S+): not found`),
	regexp.MustCompile(`(?i)env: (\S+): No such file or directory`),
}

// MissingProgram reports whether stderr and exitCode say a program wasn't
// found on the remote PATH. The name is empty when it can't be extracted.
func MissingProgram(stderr string, exitCode int) (string, bool) {
	if exitCode == 127 {
		for _, p := range notFoundPatterns {
			if m := p.FindStringSubmatch(stderr); len(m) > 1 {
				return m[1], true
			}
		}
	}
	for _, p := range dependencyPatterns {
		if m := p.FindStringSubmatch(stderr); len(m) > 1 {
			return m[1], true
		}
	}
	return "", exitCode == 127
}

// Diagnose explains common failures in a finished run. It returns nil when it
// has nothing useful to add. Wrapper-only failures (exit 127 naming the
// wrapper itself) are called out separately since the user's command never ran.
func Diagnose(r *Result, command, wrapperPrefix string) *errors.Error {
	name, missing := MissingProgram(r.Stderr, r.ExitCode)
	if !missing {
		return nil
	}
	if name == "" {
		if fields := strings.Fields(command); len(fields) > 0 {
			name = fields[0]
		} else {
			name = "command"
		}
	}

	if w := strings.Fields(wrapperPrefix); len(w) > 0 && w[0] == name {
		return errors.New(errors.ErrExec,
			fmt.Sprintf("Wrapper '%s' not found on remote", name),
			"Install it on the host, or clear 'wrapper' in .rx.yaml to run commands unwrapped.")
	}

	return errors.New(errors.ErrExec,
		fmt.Sprintf("'%s' not found in PATH on remote", name),
		fmt.Sprintf(`Commands run in a non-interactive shell, which may not load your profile.

  1. Install '%s' on the remote machine
  2. If installed, check the non-interactive PATH:
     rx exec 'command -v %s; echo $PATH'
  3. Call it by absolute path, or export PATH in the command itself`, name, name))
}
