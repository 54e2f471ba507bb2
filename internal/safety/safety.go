// Package safety decides whether a command is likely to need an interactive
// terminal and should be refused before it is sent to the remote host.
//
// This is a best-effort usability heuristic, not a security control. Commands
// run without a TTY or stdin, so a bare "vim" or "python" would sit waiting for
// input until the deadline fires. Refusing them up front gives the caller a
// fast, actionable error instead. Anything the policy allows can still do
// whatever the remote user is permitted to do; never rely on this package to
// sandbox commands.
package safety

import (
	"path"
	"sort"
	"strings"
)

// Rule describes when a denylisted program may run anyway.
type Rule int

const (
	// RuleNeedsArgs allows the program once at least one argument follows
	// (pagers, editors, remote-login clients, database shells).
	RuleNeedsArgs Rule = iota
	// RuleInterpreter allows a language interpreter when any argument follows,
	// on the assumption that it names a script rather than opening a prompt.
	RuleInterpreter
	// RuleEscalation allows a privilege-escalation tool when it carries a
	// non-interactive flag or any further argument. Only the bare token is
	// refused.
	RuleEscalation
	// RuleStrictEscalation also refuses flag-only invocations such as
	// "sudo -i" or "su -", which open a root shell. Opt-in through
	// StrictEscalation.
	RuleStrictEscalation
)

func (r Rule) String() string {
	switch r {
	case RuleNeedsArgs:
		return "needs-args"
	case RuleInterpreter:
		return "interpreter"
	case RuleEscalation:
		return "escalation"
	case RuleStrictEscalation:
		return "strict-escalation"
	default:
		return "unknown"
	}
}

// nonInteractiveFlags are flags that keep escalation tools from prompting.
var nonInteractiveFlags = map[string]bool{
	"-n":                true,
	"--non-interactive": true,
}

// Verdict is the outcome of classifying one command.
type Verdict struct {
	Allowed bool
	Program string
	Rule    Rule
	Listed  bool // Program is in the policy's denylist
	Reason  string
}

// Policy maps program names to the rule that governs them.
// The zero value allows everything.
type Policy struct {
	rules map[string]Rule
}

// DefaultPolicy returns the built-in denylist of interactive-only programs.
func DefaultPolicy() Policy {
	rules := make(map[string]Rule)
	for _, name := range []string{
		// editors and pagers
		"vim", "vi", "nvim", "nano", "emacs", "pico", "less", "more", "most", "man",
		// full-screen monitors and multiplexers
		"top", "htop", "btop", "watch", "tmux", "screen",
		// remote-login clients
		"ssh", "telnet", "ftp", "sftp",
		// database shells
		"mysql", "psql", "sqlite3", "mongo", "mongosh", "redis-cli",
		// bare shells
		"bash", "sh", "zsh", "fish",
	} {
		rules[name] = RuleNeedsArgs
	}
	for _, name := range []string{
		"python", "python2", "python3", "node", "ruby", "irb", "perl", "php", "lua", "R", "ghci",
	} {
		rules[name] = RuleInterpreter
	}
	for _, name := range escalationTools {
		rules[name] = RuleEscalation
	}
	return Policy{rules: rules}
}

var escalationTools = []string{"sudo", "su", "doas"}

// StrictEscalation returns a copy of the policy where every escalation tool
// needs a non-interactive flag or a command to run.
func (p Policy) StrictEscalation() Policy {
	next := p.clone()
	for name, rule := range next.rules {
		if rule == RuleEscalation {
			next.rules[name] = RuleStrictEscalation
		}
	}
	return next
}

// With returns a copy of the policy with name governed by rule.
func (p Policy) With(name string, rule Rule) Policy {
	next := p.clone()
	next.rules[name] = rule
	return next
}

// Without returns a copy of the policy with name removed from the denylist.
func (p Policy) Without(name string) Policy {
	next := p.clone()
	delete(next.rules, name)
	return next
}

// Programs lists the denylisted program names, sorted.
func (p Policy) Programs() []string {
	names := make([]string, 0, len(p.rules))
	for name := range p.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p Policy) clone() Policy {
	rules := make(map[string]Rule, len(p.rules)+1)
	for k, v := range p.rules {
		rules[k] = v
	}
	return Policy{rules: rules}
}

// Classify decides whether command may run without a terminal.
func (p Policy) Classify(command string) Verdict {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Verdict{Allowed: true}
	}

	program := path.Base(fields[0])
	args := fields[1:]

	rule, listed := p.rules[program]
	if !listed {
		return Verdict{Allowed: true, Program: program}
	}

	v := Verdict{Program: program, Rule: rule, Listed: true}

	switch rule {
	case RuleEscalation:
		if hasNonInteractiveFlag(args) || len(args) > 0 {
			v.Allowed = true
			return v
		}
		v.Reason = program + " without arguments prompts for a password or opens a shell"
	case RuleStrictEscalation:
		if hasNonInteractiveFlag(args) || hasOperand(args) {
			v.Allowed = true
			return v
		}
		v.Reason = program + " without a command prompts for a password or opens a shell"
	case RuleInterpreter:
		if len(args) > 0 {
			v.Allowed = true
			return v
		}
		v.Reason = program + " without a script opens an interactive prompt"
	default:
		if len(args) > 0 {
			v.Allowed = true
			return v
		}
		v.Reason = program + " without arguments needs an interactive terminal"
	}
	return v
}

func hasNonInteractiveFlag(args []string) bool {
	for _, a := range args {
		if nonInteractiveFlags[a] {
			return true
		}
	}
	return false
}

func hasOperand(args []string) bool {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return true
		}
	}
	return false
}

var defaultPolicy = DefaultPolicy()

// Classify checks command against the default policy.
func Classify(command string) Verdict {
	return defaultPolicy.Classify(command)
}
