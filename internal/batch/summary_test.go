package batch

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/rx/internal/engine"
	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/rileyhilliard/rx/internal/ui"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	ui.DisableColors()
	os.Exit(m.Run())
}

func TestRenderSummaryTo_NilResult(t *testing.T) {
	var buf bytes.Buffer
	RenderSummaryTo(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestRenderSummaryTo_AllPassed(t *testing.T) {
	var buf bytes.Buffer
	result := &Result{
		Passed:   2,
		Duration: 3 * time.Second,
		Items: []ItemResult{
			{Index: 0, Command: "echo a", Result: &engine.Result{}},
			{Index: 1, Command: "echo b", Result: &engine.Result{}},
		},
	}

	RenderSummaryTo(&buf, result)
	out := buf.String()

	assert.Contains(t, out, "2 passed")
	assert.Contains(t, out, "0 failed")
	assert.Contains(t, out, "2 total")
	assert.Contains(t, out, "(3.0s)")
	assert.NotContains(t, out, "Retry Failed Commands")
}

func TestRenderSummaryTo_WithFailures(t *testing.T) {
	var buf bytes.Buffer
	result := &Result{
		Passed:  1,
		Failed:  2,
		Skipped: 1,
		Items: []ItemResult{
			{Index: 0, Command: "echo ok", Result: &engine.Result{}},
			{Index: 1, Command: "make test", Result: &engine.Result{ExitCode: 2}},
			{Index: 2, Command: "sleep 100", Error: errors.NewTimeout(time.Second)},
			{Index: 3, Command: "echo never", Skipped: true},
		},
	}

	RenderSummaryTo(&buf, result)
	out := buf.String()

	assert.Contains(t, out, "1 passed")
	assert.Contains(t, out, "2 failed")
	assert.Contains(t, out, "1 command skipped")
	assert.Contains(t, out, "Retry Failed Commands")
	assert.Contains(t, out, "rx exec 'make test'")
	assert.Contains(t, out, "# exit 2")
	assert.Contains(t, out, "rx exec 'sleep 100'")
	assert.Contains(t, out, "Timeout: Command didn't finish within 1s")
	assert.NotContains(t, out, "'echo ok'")
	assert.NotContains(t, out, "'echo never'")
}

func TestFormatBriefSummary(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   string
	}{
		{
			name:   "nil",
			result: nil,
			want:   "No results",
		},
		{
			name:   "all passed",
			result: &Result{Passed: 3, Items: make([]ItemResult, 3), Duration: 1500 * time.Millisecond},
			want:   "3/3 commands passed (1.5s)",
		},
		{
			name:   "some failed",
			result: &Result{Passed: 1, Failed: 2, Items: make([]ItemResult, 3), Duration: 2 * time.Second},
			want:   "1 passed, 2 failed of 3 commands (2.0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatBriefSummary(tt.result))
		})
	}
}

func TestParseCommands(t *testing.T) {
	input := `
# warm up
echo one

   uname -a
#skip me too
ls -la /tmp
`
	commands, err := ParseCommands(strings.NewReader(input))
	assert.NoError(t, err)
	assert.Equal(t, []string{"echo one", "uname -a", "ls -la /tmp"}, commands)
}

func TestParseCommands_Empty(t *testing.T) {
	commands, err := ParseCommands(strings.NewReader("\n# only comments\n\n"))
	assert.NoError(t, err)
	assert.Empty(t, commands)
}

func TestParseCommands_LineTooLong(t *testing.T) {
	_, err := ParseCommands(strings.NewReader(strings.Repeat("x", maxLineSize+1)))
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}
