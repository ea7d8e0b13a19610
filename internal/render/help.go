package render

import (
	"fmt"
	"strings"

	"github.com/nous-labs/arrbot/internal/command"
	"github.com/nous-labs/arrbot/internal/status"
)

// Help lists every registered command.
func Help(prefix string, reg *command.Registry) Message {
	var b strings.Builder
	b.WriteString("**Available commands**\n\n")
	for _, s := range reg.Specs() {
		fmt.Fprintf(&b, "- `%s%s`: %s\n", prefix, s.Usage, s.Description)
	}
	fmt.Fprintf(&b, "\nUse `%shelp <command>` for details.", prefix)
	return Message{Text: b.String()}
}

// HelpTopic describes a single command.
func HelpTopic(prefix string, spec command.Spec) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s%s**\n\n", prefix, spec.Verb)
	fmt.Fprintf(&b, "%s\n\n", spec.Description)
	for _, u := range strings.Split(spec.Usage, " | ") {
		fmt.Fprintf(&b, "- `%s%s`\n", prefix, u)
	}
	return Message{Text: strings.TrimRight(b.String(), "\n")}
}

// UnknownCommand tells the user topic is not a command and lists valid verbs.
func UnknownCommand(prefix, topic string, reg *command.Registry) Message {
	verbs := reg.Verbs()
	for i, v := range verbs {
		verbs[i] = "`" + prefix + v + "`"
	}
	return Message{Text: fmt.Sprintf("Unknown command `%s%s`. Valid commands: %s.",
		prefix, Truncate(strings.ReplaceAll(topic, "`", ""), 32), strings.Join(verbs, ", "))}
}

// Usage renders a usage hint, optionally prefixed by what went wrong.
func Usage(prefix string, spec command.Spec, problem string) Message {
	var b strings.Builder
	if problem != "" {
		b.WriteString(problem + "\n")
	}
	b.WriteString("Usage:")
	for _, u := range strings.Split(spec.Usage, " | ") {
		fmt.Fprintf(&b, " `%s%s`", prefix, u)
	}
	return Message{Text: b.String()}
}

// ParseFailure renders the hint for a message that could not be parsed.
func ParseFailure(prefix string, err *command.ParseError) Message {
	reason := "missing command name"
	if err.Reason == command.ReasonUnterminatedQuote {
		reason = "unterminated quote"
	}
	return Message{Text: fmt.Sprintf("⚠️ Could not parse command (%s). Try `%shelp`.", reason, prefix)}
}

// NotConfigured tells the user an integration is disabled.
func NotConfigured(service string) Message {
	return Message{Text: fmt.Sprintf("%s is not configured.", service)}
}

// Status renders the connectivity report. Unconfigured collaborators are
// listed but do not affect the overall verdict.
func Status(reports []status.Report) Message {
	var b strings.Builder
	b.WriteString("**Bot Status**\n\n")
	for _, r := range reports {
		switch {
		case !r.Configured():
			fmt.Fprintf(&b, "- ⚪ %s: Not Configured\n", r.ServiceName)
		case r.Reachable:
			fmt.Fprintf(&b, "- ✅ %s: OK\n", r.ServiceName)
		default:
			fmt.Fprintf(&b, "- ❌ %s: %s\n", r.ServiceName, Escape(Truncate(r.Detail, 200)))
		}
	}
	if status.Healthy(reports) {
		b.WriteString("\nOverall Status: OK")
	} else {
		b.WriteString("\nOverall Status: Issues Detected")
	}
	return Message{Text: b.String()}
}
