// Package router dispatches parsed chat commands to their handlers and sends
// exactly one reply per command.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nous-labs/arrbot/internal/command"
	"github.com/nous-labs/arrbot/internal/integration"
	"github.com/nous-labs/arrbot/internal/media"
	"github.com/nous-labs/arrbot/internal/render"
	"github.com/nous-labs/arrbot/internal/status"
	"github.com/nous-labs/arrbot/pkg/channel"
)

const defaultCommandTimeout = 30 * time.Second

// Scope restricts where and how commands are accepted.
type Scope struct {
	Prefix         string
	TargetRoomID   string        // when set, messages from other rooms are ignored
	CommandTimeout time.Duration // bound on outbound calls per command
}

type verbFunc func(ctx context.Context, cmd command.Command) render.Message

// Router implements channel.MessageHandler.
type Router struct {
	scope    Scope
	registry *command.Registry
	sender   channel.Sender
	checker  *status.Checker
	handlers map[media.ServiceType]*integration.Handler
	dispatch map[string]verbFunc
}

// New builds a router. checker may be nil; nil services are treated as not configured.
func New(scope Scope, sender channel.Sender, checker *status.Checker, services ...media.Service) *Router {
	if scope.Prefix == "" {
		scope.Prefix = "!"
	}
	if scope.CommandTimeout <= 0 {
		scope.CommandTimeout = defaultCommandTimeout
	}
	r := &Router{
		scope:    scope,
		registry: command.Builtin(),
		sender:   sender,
		checker:  checker,
		handlers: make(map[media.ServiceType]*integration.Handler),
	}
	for _, svc := range services {
		if svc != nil {
			r.handlers[svc.Type()] = integration.NewHandler(svc)
		}
	}
	r.dispatch = map[string]verbFunc{
		"help":   r.helpVerb,
		"status": r.statusReport,
		"echo":   r.echo,
		"sonarr": r.mediaVerb(media.Sonarr),
		"radarr": r.mediaVerb(media.Radarr),
	}
	return r
}

// Handle processes one chat message. It returns an error only when the reply
// could not be delivered.
func (r *Router) Handle(ctx context.Context, msg channel.Message) error {
	if !strings.HasPrefix(msg.Content, r.scope.Prefix) {
		return nil
	}
	if r.scope.TargetRoomID != "" && msg.RoomID != r.scope.TargetRoomID {
		slog.Debug("ignoring command outside target room", "room", msg.RoomID)
		return nil
	}

	cmd, err := r.registry.Parse(msg.Content, r.scope.Prefix)
	var pe *command.ParseError
	switch {
	case errors.Is(err, command.ErrNotCommand):
		return nil
	case errors.As(err, &pe):
		slog.Info("unparseable command", "room", msg.RoomID, "reason", pe.Reason)
		return r.send(ctx, msg.RoomID, render.ParseFailure(r.scope.Prefix, pe))
	case err != nil:
		return r.send(ctx, msg.RoomID, render.Error("Could not read that command."))
	}
	return r.Route(ctx, cmd, msg.RoomID)
}

// Route runs cmd and sends its reply to roomID.
func (r *Router) Route(ctx context.Context, cmd command.Command, roomID string) error {
	start := time.Now()
	reply := r.reply(ctx, cmd)
	slog.Info("command handled",
		"verb", cmd.Verb,
		"sub_verb", cmd.SubVerb,
		"room", roomID,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return r.send(ctx, roomID, reply)
}

func (r *Router) reply(ctx context.Context, cmd command.Command) (msg render.Message) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("command panicked", "verb", cmd.Verb, "panic", p)
			msg = render.Error("Something went wrong while running that command.")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.scope.CommandTimeout)
	defer cancel()

	fn, ok := r.dispatch[cmd.Verb]
	if !ok {
		return r.help(cmd.Verb)
	}
	return fn(ctx, cmd)
}

func (r *Router) send(ctx context.Context, roomID string, msg render.Message) error {
	err := r.sender.Send(ctx, channel.Response{
		RoomID:   roomID,
		Content:  msg.Text,
		ImageURL: msg.ImageURL,
	})
	if err != nil {
		return fmt.Errorf("send reply to %s: %w", roomID, err)
	}
	return nil
}

func (r *Router) helpVerb(_ context.Context, cmd command.Command) render.Message {
	if len(cmd.Args) == 0 {
		return r.help("")
	}
	return r.help(cmd.Args[0])
}

func (r *Router) help(topic string) render.Message {
	topic = strings.TrimPrefix(strings.TrimSpace(topic), r.scope.Prefix)
	if topic == "" {
		return render.Help(r.scope.Prefix, r.registry)
	}
	if spec, ok := r.registry.Lookup(topic); ok {
		return render.HelpTopic(r.scope.Prefix, spec)
	}
	return render.UnknownCommand(r.scope.Prefix, topic, r.registry)
}

func (r *Router) statusReport(ctx context.Context, _ command.Command) render.Message {
	if r.checker == nil {
		return render.Error("Status checks are not available.")
	}
	return render.Status(r.checker.Check(ctx))
}

func (r *Router) echo(_ context.Context, cmd command.Command) render.Message {
	if len(cmd.Args) == 0 {
		spec, _ := r.registry.Lookup("echo")
		return render.Usage(r.scope.Prefix, spec, "")
	}
	return render.Message{Text: cmd.Term()}
}

func (r *Router) mediaVerb(kind media.ServiceType) verbFunc {
	return func(ctx context.Context, cmd command.Command) render.Message {
		spec, _ := r.registry.Lookup(cmd.Verb)
		h, ok := r.handlers[kind]
		if !ok {
			return render.NotConfigured(kind.DisplayName())
		}

		if cmd.SubVerb == "info" {
			if len(cmd.Args) != 1 {
				return render.Usage(r.scope.Prefix, spec, fmt.Sprintf("Give exactly one %s id.", kind.IDLabel()))
			}
			id, err := strconv.Atoi(cmd.Args[0])
			if err != nil || id <= 0 {
				return render.Usage(r.scope.Prefix, spec, fmt.Sprintf("%q is not a valid %s id.", cmd.Args[0], kind.IDLabel()))
			}
			item, err := h.Info(ctx, id)
			if err != nil {
				if integration.IsKind(err, integration.NotFound) {
					return render.Error(fmt.Sprintf("Nothing found in %s for %s id %d.", kind.DisplayName(), kind.IDLabel(), id))
				}
				return r.handlerError(spec, err)
			}
			return render.CatalogItem(item)
		}

		if cmd.SubVerb == "" && len(cmd.Args) == 0 {
			return render.Usage(r.scope.Prefix, spec, "")
		}
		unadded := cmd.HasFlag("unadded")
		items, err := h.Search(ctx, cmd.Term(), unadded)
		if err != nil {
			return r.handlerError(spec, err)
		}
		return render.List(render.SearchHeading(kind, cmd.Term(), unadded), items)
	}
}

func (r *Router) handlerError(spec command.Spec, err error) render.Message {
	var he *integration.Error
	if !errors.As(err, &he) {
		slog.Error("command failed", "verb", spec.Verb, "error", err)
		return render.Error("Something went wrong while running that command.")
	}
	switch he.Kind {
	case integration.EmptyQuery:
		return render.Usage(r.scope.Prefix, spec, "Please provide a search term.")
	case integration.NotFound:
		return render.Error(fmt.Sprintf("Nothing found in %s.", he.Service.DisplayName()))
	default:
		slog.Warn("service unavailable", "service", he.Service, "error", he.Err)
		return render.Error(fmt.Sprintf("%s is unavailable right now. Try again later.", he.Service.DisplayName()))
	}
}
