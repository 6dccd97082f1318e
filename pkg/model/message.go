package model

import "time"

// Outbound message ids. Block outputs use the block index as their id.
const (
	MessageDocument    = "document"
	MessageFileTree    = "file-tree"
	MessageError       = "error"
	MessageFileChanged = "file-changed"
)

// Message is the envelope written to the delivery channel.
type Message struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

// DocumentData is the payload of a "document" message.
type DocumentData struct {
	Path string `json:"path"`
	HTML string `json:"html"`
}

// OutputData is the payload of a per-block output message. Stdout and Stderr
// hold rendered HTML fragments; an empty stream yields an empty fragment.
type OutputData struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ErrorData is the payload of an "error" message. Blocks lists the directed
// blocks the error stands in for, if any.
type ErrorData struct {
	Error  string `json:"error"`
	Blocks []int  `json:"blocks,omitempty"`
}

// FileEvent announces that a file under the notebook root changed.
type FileEvent struct {
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// FileTree is one node of a directory listing.
type FileTree struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Dir      bool       `json:"dir,omitempty"`
	Children []FileTree `json:"children,omitempty"`
}
