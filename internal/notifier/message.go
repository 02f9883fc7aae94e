package notifier

import (
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/0x0BSoD/feedRelay/internal/botkit/markup"
	"github.com/0x0BSoD/feedRelay/internal/model"
)

const maxExcerptRunes = 500

var stripTags = bluemonday.StrictPolicy()

// FormatMessage renders an item as a MarkdownV2 message: bold title, plain-text excerpt, link and a hashtag of
// the feed name. The output depends only on its arguments.
func FormatMessage(src model.FeedSource, item model.Item) string {
	var b strings.Builder

	title := item.Title
	if title == "" {
		title = item.Link
	}
	fmt.Fprintf(&b, "*%s*", markup.EscapeForMarkdown(title))

	if excerpt := Excerpt(item.RawSummary, maxExcerptRunes); excerpt != "" {
		b.WriteString("\n\n" + markup.EscapeForMarkdown(excerpt))
	}

	if item.Link != "" {
		b.WriteString("\n\n" + markup.EscapeForMarkdown(item.Link))
	}

	if tag := hashtag(src.DisplayName()); tag != "" {
		b.WriteString("\n\\#" + markup.EscapeForMarkdown(tag))
	}

	return b.String()
}

// Excerpt converts an HTML or plain-text summary into whitespace-collapsed text of at most limit runes.
func Excerpt(raw string, limit int) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	var text string
	if doc, err := readability.FromReader(strings.NewReader(raw), nil); err == nil {
		text = doc.TextContent
	}
	if strings.TrimSpace(text) == "" {
		text = html.UnescapeString(stripTags.Sanitize(raw))
	}

	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		text = strings.TrimSpace(string(runes[:limit-1])) + "…"
	}

	return text
}

func hashtag(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteRune('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
