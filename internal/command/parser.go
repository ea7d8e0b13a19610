// Package command turns prefixed chat messages into structured commands.
package command

import (
	"errors"
	"slices"
	"strings"
	"unicode"
)

// ErrNotCommand is returned for text that does not start with the command prefix.
var ErrNotCommand = errors.New("not a command")

const (
	ReasonUnterminatedQuote = "unterminated-quote"
	ReasonMissingVerb       = "missing-verb"
)

// ParseError reports a prefixed message that could not be parsed.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "parse command: " + e.Reason }

// Command is a parsed chat command. It is not modified after Parse returns.
type Command struct {
	Verb    string
	SubVerb string // empty when the verb has no matching sub-verb
	Args    []string
	flags   map[string]struct{}
}

// HasFlag reports whether --name was given.
func (c Command) HasFlag(name string) bool {
	_, ok := c.flags[strings.ToLower(name)]
	return ok
}

// Flags returns the flag names, sorted.
func (c Command) Flags() []string {
	out := make([]string, 0, len(c.flags))
	for f := range c.flags {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Term joins the arguments with single spaces.
func (c Command) Term() string { return strings.Join(c.Args, " ") }

// Parse parses raw against the built-in registry.
func Parse(raw, prefix string) (Command, error) {
	return builtin.Parse(raw, prefix)
}

// Parse splits raw into verb, sub-verb, flags and arguments.
//
// Flags are unquoted tokens of the form --name and may appear anywhere.
// The token after the verb becomes the sub-verb only when the verb's spec
// lists it; otherwise it stays an argument.
func (r *Registry) Parse(raw, prefix string) (Command, error) {
	if !strings.HasPrefix(raw, prefix) {
		return Command{}, ErrNotCommand
	}

	tokens, err := tokenize(raw[len(prefix):])
	if err != nil {
		return Command{}, err
	}

	cmd := Command{flags: map[string]struct{}{}}
	var positional []string
	for _, tok := range tokens {
		if !tok.quoted && len(tok.text) > 2 && strings.HasPrefix(tok.text, "--") {
			cmd.flags[strings.ToLower(tok.text[2:])] = struct{}{}
			continue
		}
		positional = append(positional, tok.text)
	}

	if len(positional) == 0 || positional[0] == "" {
		return Command{}, &ParseError{Reason: ReasonMissingVerb}
	}
	cmd.Verb = strings.ToLower(positional[0])
	rest := positional[1:]

	if spec, ok := r.Lookup(cmd.Verb); ok && len(rest) > 0 && spec.HasSubVerb(rest[0]) {
		cmd.SubVerb = strings.ToLower(rest[0])
		rest = rest[1:]
	}
	if len(rest) > 0 {
		cmd.Args = rest
	}
	return cmd, nil
}

type token struct {
	text   string
	quoted bool
}

// tokenize splits on whitespace. Double quotes group text, including spaces,
// and may appear inside a larger token.
func tokenize(s string) ([]token, error) {
	var (
		tokens  []token
		b       strings.Builder
		inToken bool
		inQuote bool
		quoted  bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			inToken = true
			quoted = true
		case unicode.IsSpace(r) && !inQuote:
			if inToken {
				tokens = append(tokens, token{text: b.String(), quoted: quoted})
				b.Reset()
				inToken, quoted = false, false
			}
		default:
			b.WriteRune(r)
			inToken = true
		}
	}
	if inQuote {
		return nil, &ParseError{Reason: ReasonUnterminatedQuote}
	}
	if inToken {
		tokens = append(tokens, token{text: b.String(), quoted: quoted})
	}
	return tokens, nil
}
