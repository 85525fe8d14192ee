// Package desktop abstracts the environment the agent acts on: a place to run
// shell commands and read or write files, with an X display for screenshots.
package desktop

import "context"

// Output is the result of an executed command.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Desktop executes commands and file operations in the target environment.
// Run returns an error only when the command could not be executed at all;
// a command that ran and exited non-zero returns a nil error with the exit
// code in Output.
type Desktop interface {
	Run(ctx context.Context, command string) (*Output, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}
