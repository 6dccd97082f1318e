// Package markdown turns a markdown document into a flat, indexable stream of
// structural events, extracts code blocks from that stream, and splices
// generated HTML back into it.
//
// Parsing is delegated to goldmark. Only the constructs that can hold a code
// block are kept as Start/End pairs; everything else is pre-rendered into a
// single HTML event, so positions in the stream stay meaningful for code
// blocks while the rest of the document renders exactly as goldmark would.
package markdown

// Kind is the type of an Event.
type Kind int

const (
	KindText Kind = iota
	KindStart
	KindEnd
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindStart:
		return "start"
	case KindEnd:
		return "end"
	case KindHTML:
		return "html"
	}
	return "unknown"
}

// Tag names the construct a Start or End event delimits.
type Tag int

const (
	TagNone Tag = iota
	TagCodeBlock
	TagBlockQuote
	TagList
	TagListItem
)

// Event is one element of a document's structural event stream.
type Event struct {
	Kind Kind
	Tag  Tag

	// Info is the raw fence info string of a code block ("go", `bash {"cmd":"ls"}`).
	Info string

	// Ordered and Start describe a list.
	Ordered bool
	Start   int

	// Text holds the literal text of a Text event or the markup of an HTML event.
	Text string
}

// StartEvent opens a construct.
func StartEvent(tag Tag) Event { return Event{Kind: KindStart, Tag: tag} }

// EndEvent closes a construct.
func EndEvent(tag Tag) Event { return Event{Kind: KindEnd, Tag: tag} }

// TextEvent carries literal text; it is escaped when rendered.
func TextEvent(s string) Event { return Event{Kind: KindText, Text: s} }

// HTMLEvent carries markup that is written out verbatim.
func HTMLEvent(s string) Event { return Event{Kind: KindHTML, Text: s} }

// CodeStart opens a code block with the given fence info string.
func CodeStart(info string) Event {
	return Event{Kind: KindStart, Tag: TagCodeBlock, Info: info}
}

func (e Event) isCodeStart() bool { return e.Kind == KindStart && e.Tag == TagCodeBlock }
func (e Event) isCodeEnd() bool   { return e.Kind == KindEnd && e.Tag == TagCodeBlock }

// Clone returns a copy of events that shares no backing array with the input.
func Clone(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
