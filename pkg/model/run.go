package model

import "time"

// RunStatus represents the current state of a render session.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunError    RunStatus = "error"
	// RunCancelled means the session ended before every directed block ran.
	RunCancelled RunStatus = "cancelled"
)

// Run is the persisted record of one render session.
type Run struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Dir         string    `json:"dir"`
	Blocks      int       `json:"blocks"`
	Directed    int       `json:"directed"`
	Status      RunStatus `json:"status"`
	Image       string    `json:"image,omitempty"`
	ContainerID string    `json:"-"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Output is the persisted record of one executed block.
type Output struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Block      int       `json:"block"`
	Cmd        string    `json:"cmd"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
