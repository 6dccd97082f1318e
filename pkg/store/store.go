// Package store defines the RunStore interface for bashnotes execution history.
package store

import (
	"errors"

	"github.com/jxucoder/bashnotes/pkg/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStore persists render sessions and the output of their blocks.
type RunStore interface {
	CreateRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	ListRuns(limit int) ([]*model.Run, error)
	UpdateRun(run *model.Run) error
	AddOutput(out *model.Output) error
	GetOutputs(runID string) ([]*model.Output, error)
	Close() error
}
