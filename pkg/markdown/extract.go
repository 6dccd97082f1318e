package markdown

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jxucoder/bashnotes/pkg/model"
)

var (
	// ErrNestedCodeBlock is returned when a code block opens inside another.
	ErrNestedCodeBlock = errors.New("code block opened inside another code block")

	// ErrUnbalancedCodeBlock is returned when a code block end has no start,
	// or a start is never closed.
	ErrUnbalancedCodeBlock = errors.New("unbalanced code block")
)

// Extract walks events once and collects the code blocks in document order.
//
// Block options come from the fence info string after the language tag when
// it holds a configuration object. Otherwise the block's first line is tried;
// a first line that parses as configuration is dropped from the returned
// events, and one that does not is kept as ordinary code. Start and end
// positions refer to the returned events.
func Extract(events []Event) ([]Event, []*model.CodeBlock, error) {
	out := make([]Event, 0, len(events))
	var (
		blocks    []*model.CodeBlock
		cur       *model.CodeBlock
		code      strings.Builder
		firstLine bool
	)

	for i, ev := range events {
		switch {
		case ev.isCodeStart():
			if cur != nil {
				return nil, nil, fmt.Errorf("%w: event %d (block %d still open)", ErrNestedCodeBlock, i, cur.Index)
			}
			lang, rest := splitInfo(ev.Info)
			cur = &model.CodeBlock{
				Index:      len(blocks),
				Lang:       lang,
				StartIndex: len(out),
			}
			firstLine = true
			if opts, ok := ParseOptions(rest); ok {
				cur.Options = opts
				firstLine = false
			}
			code.Reset()
			out = append(out, ev)

		case ev.Kind == KindText && cur != nil:
			if firstLine {
				firstLine = false
				if opts, ok := ParseOptions(ev.Text); ok {
					cur.Options = opts
					continue
				}
			}
			code.WriteString(ev.Text)
			out = append(out, ev)

		case ev.isCodeEnd():
			if cur == nil {
				return nil, nil, fmt.Errorf("%w: end without start at event %d", ErrUnbalancedCodeBlock, i)
			}
			cur.EndIndex = len(out)
			cur.Code = code.String()
			out = append(out, ev)
			blocks = append(blocks, cur)
			cur = nil

		default:
			out = append(out, ev)
		}
	}

	if cur != nil {
		return nil, nil, fmt.Errorf("%w: block %d never closed", ErrUnbalancedCodeBlock, cur.Index)
	}
	return out, blocks, nil
}

// splitInfo separates a fence info string into its language tag and the
// remainder.
func splitInfo(info string) (lang, rest string) {
	info = strings.TrimSpace(info)
	if info == "" || strings.HasPrefix(info, "{") {
		return "", info
	}
	if i := strings.IndexAny(info, " \t"); i >= 0 {
		return info[:i], strings.TrimSpace(info[i+1:])
	}
	return info, ""
}
