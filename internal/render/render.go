// Package render formats catalog items, webhook events and bot replies as
// Markdown chat messages with an optional image.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/nous-labs/arrbot/internal/media"
)

const (
	MaxTitleLen    = 100
	MaxOverviewLen = 400
	MaxListItems   = 10

	ellipsis = "…"
)

// Message is a rendered chat message. Text is Markdown.
type Message struct {
	Text     string
	ImageURL string
}

// Truncate shortens s to at most n runes, ending in an ellipsis when cut.
// It never splits a multi-byte character.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	keep := n - 1
	i := 0
	for pos := range s {
		if i == keep {
			return strings.TrimRightFunc(s[:pos], isSpace) + ellipsis
		}
		i++
	}
	return s
}

func isSpace(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }

var mdEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
)

// Escape neutralizes Markdown in service-provided text. Inline syntax is
// escaped anywhere and block syntax at the start of each line. Leading
// indentation is dropped so text never becomes a code block.
func Escape(s string) string {
	lines := strings.Split(mdEscaper.Replace(s), "\n")
	for i, line := range lines {
		lines[i] = escapeLineStart(line)
	}
	return strings.Join(lines, "\n")
}

func escapeLineStart(line string) string {
	line = strings.TrimLeft(line, " \t")
	if line == "" {
		return line
	}
	switch line[0] {
	case '#', '>', '-', '+', '=', '~', '|':
		return `\` + line
	}
	digits := len(line) - len(strings.TrimLeft(line, "0123456789"))
	if digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')') {
		return line[:digits] + `\` + line[digits:]
	}
	return line
}

func title(item media.CatalogItem) string {
	t := Escape(Truncate(item.Title, MaxTitleLen))
	if item.Year > 0 {
		t += fmt.Sprintf(" (%d)", item.Year)
	}
	return t
}

// CatalogItem renders a detail card.
func CatalogItem(item media.CatalogItem) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", title(item))
	if item.ExternalID > 0 {
		fmt.Fprintf(&b, "%s: %d\n", item.Service.IDLabel(), item.ExternalID)
	}
	if item.Added {
		fmt.Fprintf(&b, "✅ In %s\n", item.Service.DisplayName())
	} else {
		fmt.Fprintf(&b, "➕ Not in %s\n", item.Service.DisplayName())
	}

	if item.Added {
		var details []string
		if item.Status != "" {
			details = append(details, "Status: "+Escape(item.Status))
		}
		if item.Monitored {
			details = append(details, "Monitored")
		} else {
			details = append(details, "Unmonitored")
		}
		if item.Network != "" {
			details = append(details, Escape(item.Network))
		}
		b.WriteString(strings.Join(details, " · ") + "\n")

		switch item.Service {
		case media.Sonarr:
			fmt.Fprintf(&b, "Seasons: %d · Episodes: %d/%d", item.SeasonCount, item.EpisodeFileCount, item.EpisodeCount)
		default:
			if item.HasFile {
				b.WriteString("Downloaded")
			} else {
				b.WriteString("Not downloaded")
			}
		}
		if item.SizeOnDisk > 0 {
			fmt.Fprintf(&b, " · %s on disk", humanize.IBytes(uint64(item.SizeOnDisk)))
		}
		b.WriteString("\n")
	}

	if len(item.Ratings) > 0 {
		parts := make([]string, 0, len(item.Ratings))
		for _, r := range item.Ratings {
			parts = append(parts, fmt.Sprintf("%s %.1f", r.Source, r.Value))
		}
		fmt.Fprintf(&b, "Ratings: %s\n", strings.Join(parts, ", "))
	}

	if ov := strings.TrimSpace(item.Overview); ov != "" {
		fmt.Fprintf(&b, "\n%s\n", Escape(Truncate(ov, MaxOverviewLen)))
	}

	return Message{Text: strings.TrimRight(b.String(), "\n"), ImageURL: item.PosterURL}
}

// NoResults is the text of List for an empty result set.
const NoResults = "No results found."

// List renders search results under heading. An empty list renders a
// distinct no-results message.
func List(heading string, items []media.CatalogItem) Message {
	if len(items) == 0 {
		if heading == "" {
			return Message{Text: NoResults}
		}
		return Message{Text: fmt.Sprintf("%s\n%s", heading, NoResults)}
	}

	var b strings.Builder
	if heading != "" {
		b.WriteString(heading + "\n\n")
	}
	shown := items
	if len(shown) > MaxListItems {
		shown = shown[:MaxListItems]
	}
	for _, it := range shown {
		state := "not added"
		if it.Added {
			state = "in library"
		}
		fmt.Fprintf(&b, "- **%s** · %s %d · %s\n", title(it), it.Service.IDLabel(), it.ExternalID, state)
	}
	if more := len(items) - len(shown); more > 0 {
		fmt.Fprintf(&b, "\n…and %d more", more)
	}
	return Message{Text: strings.TrimRight(b.String(), "\n")}
}

// SearchHeading builds the heading used for search results.
func SearchHeading(svc media.ServiceType, term string, unaddedOnly bool) string {
	h := fmt.Sprintf("**%s** results for \"%s\"", svc.DisplayName(), Escape(Truncate(term, MaxTitleLen)))
	if unaddedOnly {
		h += " (not yet added)"
	}
	return h + ":"
}

// TestConfirmation is the fixed reply to a service's test webhook.
func TestConfirmation(svc media.ServiceType) string {
	return fmt.Sprintf("✅ Received %s 'Test' webhook successfully!", svc.DisplayName())
}

// WebhookEvent renders a normalized webhook notification.
func WebhookEvent(evt media.Event) Message {
	if evt.IsTest {
		return Message{Text: TestConfirmation(evt.Service)}
	}

	var b strings.Builder
	icon := "🎬"
	if evt.Service == media.Sonarr {
		icon = "📺"
	}
	verb := "Downloaded"
	if evt.IsUpgrade {
		verb = "Upgraded"
	}
	if !strings.EqualFold(evt.EventType, "Download") {
		verb = fmt.Sprintf("%s event %q", evt.Service.DisplayName(), evt.EventType)
	}

	var msg Message
	if evt.Item != nil {
		fmt.Fprintf(&b, "%s **%s:** %s\n", icon, verb, title(*evt.Item))
		msg.ImageURL = evt.Item.PosterURL
	} else {
		fmt.Fprintf(&b, "%s **%s**\n", icon, verb)
	}

	for _, ep := range evt.Episodes {
		line := fmt.Sprintf("- S%02dE%02d", ep.Season, ep.Number)
		if ep.Title != "" {
			line += " – " + Escape(Truncate(ep.Title, MaxTitleLen))
		}
		b.WriteString(line + "\n")
	}
	if evt.Quality != "" {
		fmt.Fprintf(&b, "Quality: %s\n", Escape(evt.Quality))
	}
	if evt.ReleaseTitle != "" {
		fmt.Fprintf(&b, "Release: %s\n", Escape(Truncate(evt.ReleaseTitle, MaxTitleLen*2)))
	}
	if evt.Item != nil {
		if ov := strings.TrimSpace(evt.Item.Overview); ov != "" {
			fmt.Fprintf(&b, "\n%s\n", Escape(Truncate(ov, MaxOverviewLen)))
		}
	}

	msg.Text = strings.TrimRight(b.String(), "\n")
	return msg
}

// Error renders a short failure message for the user.
func Error(text string) Message {
	return Message{Text: "⚠️ " + text}
}
