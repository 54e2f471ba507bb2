package engine

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/rileyhilliard/rx/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{
			name:   "stdout only",
			result: Result{Stdout: "hi\n"},
			want:   "hi\n\n(exit code: 0)",
		},
		{
			name:   "stdout without trailing newline",
			result: Result{Stdout: "hi"},
			want:   "hi\n(exit code: 0)",
		},
		{
			name:   "stderr only",
			result: Result{Stderr: "boom\n", ExitCode: 1},
			want:   "STDERR:\nboom\n\n(exit code: 1)",
		},
		{
			name:   "both streams",
			result: Result{Stdout: "out\n", Stderr: "err\n", ExitCode: 2},
			want:   "out\n\nSTDERR:\nerr\n\n(exit code: 2)",
		},
		{
			name:   "no output",
			result: Result{},
			want:   "(no output)\n(exit code: 0)",
		},
		{
			name:   "no output with failure",
			result: Result{ExitCode: 127},
			want:   "(no output)\n(exit code: 127)",
		},
		{
			name:   "signal",
			result: Result{ExitCode: 137, ExitSignal: "KILL"},
			want:   "(no output)\n(exit code: 137, signal: KILL)",
		},
		{
			name:   "terminated with output",
			result: Result{Stdout: "partial\n", ExitCode: 143, ExitSignal: "TERM"},
			want:   "partial\n\n(exit code: 143, signal: TERM)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(&tt.result))
		})
	}
}

func TestRenderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "rejected", err: errors.NewRejected("vim"), want: "Rejected: 'vim' needs an interactive terminal"},
		{name: "rejected empty", err: errors.NewRejected(""), want: "Rejected: Nothing to run"},
		{name: "timeout", err: errors.NewTimeout(5 * time.Second), want: "Timeout: Command didn't finish within 5s"},
		{
			name: "stream",
			err:  errors.WrapStream(stderrors.New("EOF")),
			want: "Stream error: Lost the output stream mid-command (EOF)",
		},
		{
			name: "exec",
			err:  errors.WrapExec(stderrors.New("channel open failed"), "ls"),
			want: "Execution error: Failed to start command: ls (channel open failed)",
		},
		{name: "plain error", err: stderrors.New("weird"), want: "Error: weird"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderError(tt.err))
		})
	}
}
