package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type requestKind int

const (
	requestOpenFile requestKind = iota + 1
	requestGetTree
)

// request is an inbound client message.
type request struct {
	Kind requestKind
	Path string
}

var errUnknownRequest = errors.New("unknown request")

// parseRequest accepts the typed form ({"OpenFile":{"path":...}}, "GetTree"),
// the envelope form ({"type":"open_file","path":...}) and the legacy text
// commands "init" and "get <path>".
func parseRequest(data []byte) (request, error) {
	text := strings.TrimSpace(string(data))

	switch {
	case text == "init":
		return request{Kind: requestGetTree}, nil
	case strings.HasPrefix(text, "get "):
		return openFile(strings.TrimPrefix(text, "get "))
	case strings.HasPrefix(text, `"`):
		var name string
		if err := json.Unmarshal([]byte(text), &name); err != nil {
			return request{}, fmt.Errorf("decoding request: %w", err)
		}
		if name == "GetTree" {
			return request{Kind: requestGetTree}, nil
		}
		return request{}, fmt.Errorf("%w: %q", errUnknownRequest, name)
	case strings.HasPrefix(text, "{"):
		return parseObject([]byte(text))
	}
	return request{}, fmt.Errorf("%w: %s", errUnknownRequest, truncate(text, 40))
}

type inboundObject struct {
	// Envelope form.
	Type string `json:"type"`
	Path string `json:"path"`

	// Typed form.
	OpenFile *struct {
		Path string `json:"path"`
	} `json:"OpenFile"`
	GetTree json.RawMessage `json:"GetTree"`
}

func parseObject(data []byte) (request, error) {
	var in inboundObject
	if err := json.Unmarshal(data, &in); err != nil {
		return request{}, fmt.Errorf("decoding request: %w", err)
	}

	switch {
	case in.OpenFile != nil:
		return openFile(in.OpenFile.Path)
	case in.GetTree != nil:
		return request{Kind: requestGetTree}, nil
	}

	switch strings.ToLower(strings.TrimSpace(in.Type)) {
	case "open_file":
		return openFile(in.Path)
	case "get_tree":
		return request{Kind: requestGetTree}, nil
	case "":
		return request{}, fmt.Errorf("%w: type is required", errUnknownRequest)
	default:
		return request{}, fmt.Errorf("%w: %q", errUnknownRequest, in.Type)
	}
}

func openFile(path string) (request, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return request{}, fmt.Errorf("path is required")
	}
	return request{Kind: requestOpenFile, Path: path}, nil
}
