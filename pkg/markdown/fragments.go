package markdown

import (
	"fmt"

	"github.com/yuin/goldmark/util"

	"github.com/jxucoder/bashnotes/pkg/model"
)

// Section titles of the collapsible parts of a block wrapper.
const (
	TitleInput  = "Input"
	TitleOutput = "Output"
	TitleError  = "Error"
)

// WrapperOpen opens the accordion that groups a block with its outputs.
func WrapperOpen(b *model.CodeBlock) string {
	return fmt.Sprintf(`<ul uk-accordion="multiple: true" id="%s">`, b.ElementID())
}

// WrapperClose closes the accordion opened by WrapperOpen.
func WrapperClose() string {
	return "</ul>"
}

// SectionOpen opens a collapsible section with a bold title and muted subtext.
func SectionOpen(title, subtext string) string {
	return fmt.Sprintf(`
<li class="uk-open">
    <a class="uk-accordion-title uk-text-small" href="#"><span class="uk-text-bold">%s</span> <span class="uk-text-muted">%s</span></a>
    <div class="uk-accordion-content">`,
		escape(title), escape(subtext))
}

// SectionClose closes a section opened by SectionOpen.
func SectionClose() string {
	return `
    </div>
</li>`
}

// Section renders a complete section holding body as preformatted text. An
// empty body renders nothing.
func Section(title, subtext, body string) string {
	if body == "" {
		return ""
	}
	return SectionOpen(title, subtext) +
		"<pre><code>" + escape(body) + "</code></pre>" +
		SectionClose()
}

// ResultSections renders the Output and Error sections of a result.
func ResultSections(r *model.ExecutionResult) (stdout, stderr string) {
	stdout = Section(TitleOutput, "stdout", r.Stdout)
	sub := "stderr"
	if r.ExitCode != 0 {
		sub = fmt.Sprintf("stderr (exit %d)", r.ExitCode)
	}
	stderr = Section(TitleError, sub, r.Stderr)
	return stdout, stderr
}

// Notice renders a standalone alert, used for errors that concern the whole
// document rather than a single block.
func Notice(msg string) string {
	return `<div class="uk-alert-danger" uk-alert><p>` + escape(msg) + `</p></div>` + "\n"
}

// HiddenOpen opens an accordion item that is never shown. It holds the code
// of a hidden block.
func HiddenOpen() string {
	return "\n<li hidden>"
}

// HiddenClose closes an item opened by HiddenOpen.
func HiddenClose() string {
	return "</li>"
}

// Wrap returns the insertions that surround block b: the accordion, the Input
// section (a hidden item for a hidden block), and any extra fragments placed
// after the input and before the accordion closes.
func Wrap(b *model.CodeBlock, extra ...string) []Insertion {
	after := b.EndIndex + 1
	itemOpen, itemClose := SectionOpen(TitleInput, b.Options.Name), SectionClose()
	if b.Options.Hide {
		itemOpen, itemClose = HiddenOpen(), HiddenClose()
	}
	ins := []Insertion{
		{Index: b.StartIndex, Event: HTMLEvent(WrapperOpen(b))},
		{Index: b.StartIndex, Event: HTMLEvent(itemOpen)},
		{Index: after, Event: HTMLEvent(itemClose)},
	}
	for _, frag := range extra {
		if frag == "" {
			continue
		}
		ins = append(ins, Insertion{Index: after, Event: HTMLEvent(frag)})
	}
	return append(ins, Insertion{Index: after, Event: HTMLEvent(WrapperClose())})
}

func escape(s string) string {
	return string(util.EscapeHTML([]byte(s)))
}
