package markdown

import (
	"encoding/json"
	"strings"

	"github.com/jxucoder/bashnotes/pkg/model"
)

// ParseOptions parses a code block configuration such as
//
//	{"name": "hello.py", "cmd": "python3 hello.py", "hide": true}
//
// It reports false, with zero options, for anything that is not a JSON object
// with correctly typed keys. Unknown keys are ignored.
func ParseOptions(s string) (model.BlockOptions, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return model.BlockOptions{}, false
	}

	var opts model.BlockOptions
	if err := json.Unmarshal([]byte(s), &opts); err != nil {
		return model.BlockOptions{}, false
	}
	return opts, true
}
