package markdown

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark/util"
)

// RenderHTML writes an event stream out as HTML.
func RenderHTML(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		switch ev.Kind {
		case KindHTML:
			b.WriteString(ev.Text)
		case KindText:
			b.Write(util.EscapeHTML([]byte(ev.Text)))
		case KindStart:
			writeOpen(&b, ev)
		case KindEnd:
			writeClose(&b, ev)
		}
	}
	return b.String()
}

func writeOpen(b *strings.Builder, ev Event) {
	switch ev.Tag {
	case TagCodeBlock:
		lang, _ := splitInfo(ev.Info)
		if lang == "" {
			b.WriteString("<pre><code>")
			return
		}
		b.WriteString(`<pre><code class="language-`)
		b.Write(util.EscapeHTML([]byte(lang)))
		b.WriteString(`">`)
	case TagBlockQuote:
		b.WriteString("<blockquote>\n")
	case TagList:
		switch {
		case !ev.Ordered:
			b.WriteString("<ul>\n")
		case ev.Start > 1:
			b.WriteString(`<ol start="` + strconv.Itoa(ev.Start) + `">` + "\n")
		default:
			b.WriteString("<ol>\n")
		}
	case TagListItem:
		b.WriteString("<li>")
	}
}

func writeClose(b *strings.Builder, ev Event) {
	switch ev.Tag {
	case TagCodeBlock:
		b.WriteString("</code></pre>\n")
	case TagBlockQuote:
		b.WriteString("</blockquote>\n")
	case TagList:
		// List ends carry the Ordered flag of their start.
		if ev.Ordered {
			b.WriteString("</ol>\n")
		} else {
			b.WriteString("</ul>\n")
		}
	case TagListItem:
		b.WriteString("</li>\n")
	}
}
