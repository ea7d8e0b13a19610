// Package matrix implements the Matrix chat channel using mautrix-go.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/nous-labs/arrbot/pkg/channel"
)

var errNotConnected = errors.New("matrix: not connected")

const maxImageBytes = 10 << 20

// Config holds Matrix channel configuration.
type Config struct {
	Homeserver   string
	UserID       string // full MXID (@bot:example.org) or localpart
	Password     string
	ServerName   string // used when UserID is a localpart
	AllowedUsers []string
}

// FullUserID returns the bot's MXID.
func (c Config) FullUserID() string {
	if strings.HasPrefix(c.UserID, "@") {
		return c.UserID
	}
	return fmt.Sprintf("@%s:%s", c.UserID, c.ServerName)
}

func (c Config) localpart() string {
	if !strings.HasPrefix(c.UserID, "@") {
		return c.UserID
	}
	local, _, _ := strings.Cut(strings.TrimPrefix(c.UserID, "@"), ":")
	return local
}

// Channel implements channel.Channel for Matrix.
type Channel struct {
	config    Config
	handler   channel.MessageHandler
	onReady   func(ctx context.Context)
	startTime int64

	mu     sync.RWMutex
	client *mautrix.Client
}

var _ channel.Channel = (*Channel)(nil)

// New creates a new Matrix channel.
func New(cfg Config) *Channel {
	return &Channel{config: cfg}
}

// Name returns the channel identifier.
func (c *Channel) Name() string { return "matrix" }

// OnReady registers fn to run once after login, before the first sync.
func (c *Channel) OnReady(fn func(ctx context.Context)) { c.onReady = fn }

// Start connects to Matrix and begins listening for messages.
// Messages are handed to handler one at a time, in arrival order, on a
// single worker so the sync loop never waits for a command to finish.
func (c *Channel) Start(ctx context.Context, handler channel.MessageHandler) error {
	c.handler = handler
	c.startTime = time.Now().UnixMilli()

	client, err := mautrix.NewClient(c.config.Homeserver, "", "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	client.Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Str("component", "mautrix").Logger()

	// In-memory sync store; a restart resyncs from now
	client.Store = mautrix.NewMemorySyncStore()

	if err := c.loginWithRetry(ctx, client); err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	pool := workerpool.New(1)
	defer pool.StopWait()

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		msg, ok := c.toMessage(client, evt)
		if !ok {
			return
		}
		pool.Submit(func() { c.dispatch(ctx, msg) })
	})
	syncer.OnEventType(event.StateMember, func(evCtx context.Context, evt *event.Event) {
		c.onMemberEvent(evCtx, client, evt)
	})

	if c.onReady != nil {
		go c.onReady(ctx)
	}

	slog.Info("matrix channel ready, starting sync", "user", client.UserID)

	// Sync loop with reconnection
	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("matrix sync error, reconnecting in 15s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(15 * time.Second):
			}
		}
	}
}

// loginWithRetry performs password login with exponential backoff.
func (c *Channel) loginWithRetry(ctx context.Context, client *mautrix.Client) error {
	backoff := 2 * time.Second
	maxBackoff := 2 * time.Minute
	maxAttempts := 10
	fullUserID := c.config.FullUserID()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Info("logging into Matrix",
			"user", fullUserID,
			"homeserver", c.config.Homeserver,
			"attempt", attempt,
		)

		resp, err := client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: c.config.localpart(),
			},
			Password:                 c.config.Password,
			InitialDeviceDisplayName: "arrbot",
			StoreCredentials:         true,
		})
		if err == nil {
			slog.Info("logged into Matrix", "user", resp.UserID, "device", resp.DeviceID)
			return nil
		}

		errStr := err.Error()
		if strings.Contains(errStr, "M_FORBIDDEN") ||
			strings.Contains(errStr, "M_UNKNOWN_TOKEN") ||
			strings.Contains(errStr, "M_INVALID_PARAM") {
			return fmt.Errorf("matrix login: %w (non-retryable)", err)
		}
		if attempt == maxAttempts {
			return fmt.Errorf("matrix login: %w (after %d attempts)", err, maxAttempts)
		}

		slog.Warn("matrix login failed, retrying",
			"error", err,
			"attempt", attempt,
			"backoff", backoff,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("matrix login: exhausted retries")
}

func (c *Channel) api() (*mautrix.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, errNotConnected
	}
	return c.client, nil
}

// Send posts resp as a single m.notice. Content is rendered from Markdown;
// an ImageURL is uploaded and shown inline above the text. A failed upload
// degrades to a text-only message.
func (c *Channel) Send(ctx context.Context, resp channel.Response) error {
	client, err := c.api()
	if err != nil {
		return err
	}

	content := format.RenderMarkdown(resp.Content, true, false)
	content.MsgType = event.MsgNotice

	if resp.ImageURL != "" {
		if mxc, err := c.uploadImage(ctx, client, resp.ImageURL); err != nil {
			slog.Warn("image upload failed, sending text only", "url", resp.ImageURL, "error", err)
		} else {
			withImage(&content, mxc)
		}
	}

	roomID := id.RoomID(resp.RoomID)
	if _, err := client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		slog.Error("matrix send failed", "room", roomID, "len", len(resp.Content), "error", err)
		return fmt.Errorf("matrix send to %s: %w", roomID, err)
	}
	slog.Info("matrix message sent", "room", roomID, "len", len(resp.Content), "image", resp.ImageURL != "")
	return nil
}

func (c *Channel) uploadImage(ctx context.Context, client *mautrix.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create image request: %w", err)
	}
	resp, err := client.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	up, err := client.UploadBytes(ctx, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return up.ContentURI.String(), nil
}

// withImage prefixes an inline image to the formatted body.
func withImage(content *event.MessageEventContent, mxc string) {
	body := content.FormattedBody
	if content.Format != event.FormatHTML || body == "" {
		body = strings.ReplaceAll(html.EscapeString(content.Body), "\n", "<br>")
	}
	content.Format = event.FormatHTML
	content.FormattedBody = fmt.Sprintf(`<img src="%s" alt="poster" height="300"><br>%s`, html.EscapeString(mxc), body)
}

// Ping checks the session with /whoami.
func (c *Channel) Ping(ctx context.Context) error {
	client, err := c.api()
	if err != nil {
		return err
	}
	if _, err := client.Whoami(ctx); err != nil {
		return fmt.Errorf("matrix whoami: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the Matrix channel.
func (c *Channel) Stop() error {
	if client, err := c.api(); err == nil {
		client.StopSync()
	}
	return nil
}

// --- Event Handlers ---

func (c *Channel) toMessage(client *mautrix.Client, evt *event.Event) (channel.Message, bool) {
	if evt.Sender == client.UserID {
		return channel.Message{}, false
	}
	if evt.Timestamp < c.startTime {
		return channel.Message{}, false
	}
	if !c.isAllowed(evt.Sender) {
		return channel.Message{}, false
	}

	content := evt.Content.AsMessage()
	if content == nil || content.Body == "" || content.MsgType == event.MsgNotice {
		return channel.Message{}, false
	}

	slog.Debug("matrix message received",
		"sender", evt.Sender,
		"room", evt.RoomID,
		"content", truncate(content.Body, 100),
	)
	return channel.Message{
		Source:    "matrix",
		SenderID:  string(evt.Sender),
		RoomID:    string(evt.RoomID),
		Content:   content.Body,
		Timestamp: evt.Timestamp,
	}, true
}

func (c *Channel) dispatch(ctx context.Context, msg channel.Message) {
	if ctx.Err() != nil {
		return
	}
	if err := c.handler(ctx, msg); err != nil {
		slog.Error("message handler error", "room", msg.RoomID, "error", err)
	}
}

func (c *Channel) onMemberEvent(ctx context.Context, client *mautrix.Client, evt *event.Event) {
	if evt.GetStateKey() != string(client.UserID) {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if !c.isAllowed(evt.Sender) {
		slog.Warn("rejecting room invite from unauthorized user", "sender", evt.Sender)
		return
	}

	slog.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender)
	if _, err := client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
	}
}

// --- Helpers ---

func (c *Channel) isAllowed(sender id.UserID) bool {
	restricted := false
	for _, allowed := range c.config.AllowedUsers {
		if allowed == "" {
			continue
		}
		restricted = true
		if string(sender) == allowed {
			return true
		}
	}
	return !restricted
}

// truncate flattens s to one line of at most n runes for logging.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
