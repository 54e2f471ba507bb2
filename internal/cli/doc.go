// Package cli implements the rx command-line interface.
//
// Each Cobra command loads the config, applies flag overrides, and hands off
// to a plain function that takes its writers explicitly so tests can drive it
// without a terminal.
//
// # Command Structure
//
//	rx exec [command]      - Run one command and print its report
//	rx batch [file]        - Run a list of commands over one session
//	rx classify [command]  - Show whether a command may run non-interactively
//	rx check               - Connect and report on the session
//	rx init                - Create .rx.yaml
//
// # Sessions
//
// openSession builds the connection manager and engine from a validated
// config. Commands that reach the remote host share that one manager for
// their whole lifetime and close it on exit.
//
// # Flag Handling
//
// Global flags (--config, --host, --port, --user, --key, --wrapper,
// --verbose, --quiet, --no-color) are defined on the root command. Target
// flags override the loaded config; --host also accepts user@host.
package cli
