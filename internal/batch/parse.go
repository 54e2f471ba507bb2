package batch

import (
	"bufio"
	"io"
	"strings"

	"github.com/rileyhilliard/rx/internal/errors"
)

// maxLineSize bounds a single command line.
const maxLineSize = 1024 * 1024

// ParseCommands reads one command per line. Blank lines and lines starting
// with '#' are skipped; surrounding whitespace is trimmed.
func ParseCommands(r io.Reader) ([]string, error) {
	var commands []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read the command list",
			"Put one command per line, each under 1MB.")
	}

	return commands, nil
}
