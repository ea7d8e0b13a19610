package command

import "strings"

// Spec describes one chat command for help output and sub-verb detection.
type Spec struct {
	Verb        string
	SubVerbs    []string
	Usage       string // without the command prefix
	Description string
}

// HasSubVerb reports whether s (case-insensitive) is one of the spec's sub-verbs.
func (s Spec) HasSubVerb(sub string) bool {
	for _, v := range s.SubVerbs {
		if strings.EqualFold(v, sub) {
			return true
		}
	}
	return false
}

// Registry is an ordered, read-only set of command specs.
type Registry struct {
	specs  []Spec
	byVerb map[string]int
}

// NewRegistry builds a registry. Later specs with a duplicate verb replace earlier ones.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{byVerb: make(map[string]int, len(specs))}
	for _, s := range specs {
		s.Verb = strings.ToLower(s.Verb)
		if i, ok := r.byVerb[s.Verb]; ok {
			r.specs[i] = s
			continue
		}
		r.byVerb[s.Verb] = len(r.specs)
		r.specs = append(r.specs, s)
	}
	return r
}

// Lookup finds the spec for verb.
func (r *Registry) Lookup(verb string) (Spec, bool) {
	i, ok := r.byVerb[strings.ToLower(verb)]
	if !ok {
		return Spec{}, false
	}
	return r.specs[i], true
}

// Specs returns a copy of the registered specs in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Verbs returns the registered verbs in registration order.
func (r *Registry) Verbs() []string {
	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Verb
	}
	return out
}

var builtin = NewRegistry(
	Spec{
		Verb:        "help",
		Usage:       "help [command]",
		Description: "Show available commands, or details for one command.",
	},
	Spec{
		Verb:        "status",
		Usage:       "status",
		Description: "Check connectivity to Matrix and the configured services.",
	},
	Spec{
		Verb:        "echo",
		Usage:       "echo <text>",
		Description: "Repeat the given text back to the room.",
	},
	Spec{
		Verb:        "sonarr",
		SubVerbs:    []string{"search", "info"},
		Usage:       "sonarr [search] [--unadded] <term...> | sonarr info <tvdbId>",
		Description: "Search Sonarr for TV series, or show details for a TVDb id.",
	},
	Spec{
		Verb:        "radarr",
		SubVerbs:    []string{"search", "info"},
		Usage:       "radarr [search] [--unadded] <term...> | radarr info <tmdbId>",
		Description: "Search Radarr for movies, or show details for a TMDb id.",
	},
)

// Builtin returns the registry of commands the bot understands.
func Builtin() *Registry { return builtin }
