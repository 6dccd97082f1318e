// Package model defines the core data types shared across bashnotes packages.
package model

import (
	"strconv"
	"time"
)

// BlockOptions is the configuration attached to a fenced code block.
// Zero values mean the option was not set.
type BlockOptions struct {
	// Hide suppresses the "Input" section around the block's source.
	Hide bool `json:"hide,omitempty"`

	// Name is a path, relative to the notebook directory, that the block's
	// code is written to before any command runs.
	Name string `json:"name,omitempty"`

	// Cmd is a shell command run inside the sandbox after materialization.
	Cmd string `json:"cmd,omitempty"`
}

// CodeBlock is one fenced code region of a document.
type CodeBlock struct {
	Index      int          `json:"index"` // order of appearance, starting at 0
	Lang       string       `json:"lang,omitempty"`
	Options    BlockOptions `json:"options"`
	StartIndex int          `json:"start_index"` // position of the Start event
	EndIndex   int          `json:"end_index"`   // position of the End event
	Code       string       `json:"code"`
}

// Directed reports whether the block carries a command to execute.
func (b *CodeBlock) Directed() bool {
	return b.Options.Cmd != ""
}

// ElementID is the HTML id of the wrapper around the block.
func (b *CodeBlock) ElementID() string {
	return "block-" + strconv.Itoa(b.Index)
}

// MessageID identifies the block's output messages on the delivery channel.
func (b *CodeBlock) MessageID() string {
	return strconv.Itoa(b.Index)
}

// ExecutionResult is the captured output of one directed block.
type ExecutionResult struct {
	Block    int           `json:"block"`
	Cmd      string        `json:"cmd"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}
