// Package wrapper nests remote commands inside an operator-configured prefix
// command (a sandbox launcher, a login shell, a container exec, ...).
//
// The wrapper itself is trusted operator input. It is checked once at startup
// by Validate so a malformed wrapper fails loudly instead of producing a broken
// remote command line on first use.
package wrapper

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/util"
)

// Compose returns the literal string to submit for execution. An empty wrapper
// leaves the command untouched; otherwise the command is single-quoted and
// appended to the wrapper as one argument.
func Compose(command, wrapper string) string {
	if wrapper == "" {
		return command
	}
	return wrapper + " " + util.ShellQuote(command)
}

// Validate rejects wrappers that would produce a broken command line:
// unbalanced single or double quotes, a dangling backslash, or control
// characters such as newlines.
func Validate(wrapper string) error {
	if wrapper == "" {
		return nil
	}

	const (
		none = iota
		single
		double
	)
	state := none
	escaped := false

	for i, r := range wrapper {
		if unicode.IsControl(r) && r != '\t' {
			return invalid(wrapper, fmt.Sprintf("control character %q at position %d", r, i))
		}
		if escaped {
			escaped = false
			continue
		}
		switch state {
		case none:
			switch r {
			case '\\':
				escaped = true
			case '\'':
				state = single
			case '"':
				state = double
			}
		case single:
			if r == '\'' {
				state = none
			}
		case double:
			switch r {
			case '\\':
				escaped = true
			case '"':
				state = none
			}
		}
	}

	switch {
	case escaped:
		return invalid(wrapper, "ends with an unescaped backslash")
	case state == single:
		return invalid(wrapper, "unterminated single quote")
	case state == double:
		return invalid(wrapper, "unterminated double quote")
	}
	return nil
}

func invalid(wrapper, why string) error {
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("Wrapper %q is malformed: %s", wrapper, why),
		"Fix the 'wrapper' setting in .rx.yaml (or RX_WRAPPER). Commands are appended as a single-quoted argument.")
}

// Unquote reverses util.ShellQuote for a single-quoted segment.
func Unquote(quoted string) (string, error) {
	if len(quoted) < 2 || quoted[0] != '\'' || quoted[len(quoted)-1] != '\'' {
		return "", fmt.Errorf("not a single-quoted string: %q", quoted)
	}

	body := quoted[1 : len(quoted)-1]
	var b strings.Builder
	for {
		i := strings.IndexByte(body, '\'')
		if i < 0 {
			b.WriteString(body)
			return b.String(), nil
		}
		b.WriteString(body[:i])
		if !strings.HasPrefix(body[i:], `'\''`) {
			return "", fmt.Errorf("stray quote at offset %d in %q", i+1, quoted)
		}
		b.WriteByte('\'')
		body = body[i+4:]
	}
}
