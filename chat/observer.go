package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/highlight-relay/db"
	"github.com/onnwee/highlight-relay/obs"
)

// flagCommand is the moderator command that flags a message.
const flagCommand = "!highlight"

// recentLimit bounds how many messages are remembered for reply lookups.
const recentLimit = 256

// Highlighter consumes flagged messages. Implemented by *obs.Client.
type Highlighter interface {
	Highlight(ctx context.Context, ev obs.MessageEvent) error
}

// remembered is a seen chat line kept for later flagging.
type remembered struct {
	id   string
	user string // lowercased sender, for the per-user index
	ev   obs.MessageEvent
}

// Observer watches a Twitch channel and turns moderator flags into
// highlight operations.
type Observer struct {
	Channel     string
	BotUsername string
	OAuthToken  string
	DB          *sql.DB
	Highlighter Highlighter

	// DispatchTimeout bounds one highlight operation. Defaults to 30s.
	DispatchTimeout time.Duration

	log *slog.Logger

	mu         sync.Mutex
	recent     []remembered // newest last
	byID       map[string]obs.MessageEvent
	lastByUser map[string]string // lowercased user -> newest message id in the ring
}

// Run connects to Twitch IRC and blocks until ctx is cancelled or the
// connection fails terminally. Missing credentials disable the observer
// with a log line rather than an error, matching how optional features
// degrade elsewhere in the service.
func (o *Observer) Run(ctx context.Context) {
	o.log = slog.Default().With(slog.String("component", "chat"), slog.String("channel", o.Channel))
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 30 * time.Second
	}
	o.byID = make(map[string]obs.MessageEvent)
	o.lastByUser = make(map[string]string)

	token := o.OAuthToken
	if token == "" && o.DB != nil {
		access, _, _, _, err := db.GetOAuthToken(ctx, o.DB, "twitch")
		if err != nil {
			o.log.Warn("stored twitch token lookup failed", slog.Any("err", err))
		} else if access != "" {
			token = "oauth:" + strings.TrimPrefix(access, "oauth:")
		}
	}
	if o.Channel == "" || o.BotUsername == "" || token == "" {
		o.log.Info("twitch creds not set; chat observer disabled")
		return
	}

	client := twitch.NewClient(o.BotUsername, token)
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		o.handleMessage(ctx, msg)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(o.Channel)
	if err := client.Connect(); err != nil {
		o.log.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}

// handleMessage remembers every line and dispatches flags. Called from the
// IRC client's read goroutine; dispatching happens off it.
func (o *Observer) handleMessage(ctx context.Context, msg twitch.PrivateMessage) {
	text := strings.TrimSpace(msg.Message)
	if !strings.HasPrefix(strings.ToLower(text), flagCommand) {
		o.remember(msg)
		return
	}
	if !isModerator(msg) {
		o.log.Debug("ignoring flag from non-moderator", slog.String("user", msg.User.Name))
		return
	}
	ev, ok := o.resolveFlag(msg, text)
	if !ok {
		o.log.Debug("flag did not resolve to a message", slog.String("user", msg.User.Name))
		return
	}
	go o.dispatch(ctx, ev, msg.User.Name)
}

// resolveFlag finds the message a flag refers to: the replied-to message,
// or the named user's most recent line.
func (o *Observer) resolveFlag(msg twitch.PrivateMessage, text string) (obs.MessageEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if msg.Reply != nil && msg.Reply.ParentMsgID != "" {
		if ev, ok := o.byID[msg.Reply.ParentMsgID]; ok {
			return ev, true
		}
		// Evicted from the ring: fall back to the reply-parent tags, which
		// carry no color.
		if msg.Reply.ParentMsgBody != "" {
			return obs.MessageEvent{
				Username:  msg.Reply.ParentUserLogin,
				Message:   msg.Reply.ParentMsgBody,
				Timestamp: msg.Time,
			}, true
		}
		return obs.MessageEvent{}, false
	}

	arg := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(text), flagCommand))
	arg = strings.TrimPrefix(arg, "@")
	if arg == "" {
		return obs.MessageEvent{}, false
	}
	id, ok := o.lastByUser[arg]
	if !ok {
		return obs.MessageEvent{}, false
	}
	ev, ok := o.byID[id]
	return ev, ok
}

func (o *Observer) remember(msg twitch.PrivateMessage) {
	ev := obs.MessageEvent{
		Username:  msg.User.DisplayName,
		Message:   msg.Message,
		Color:     msg.User.Color,
		Timestamp: msg.Time,
	}
	user := strings.ToLower(msg.User.Name)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recent = append(o.recent, remembered{id: msg.ID, user: user, ev: ev})
	o.byID[msg.ID] = ev
	o.lastByUser[user] = msg.ID
	if len(o.recent) > recentLimit {
		evicted := o.recent[0]
		o.recent = o.recent[1:]
		delete(o.byID, evicted.id)
		// Keep the per-user index inside the ring: drop the entry unless a
		// newer message from the same user superseded it.
		if o.lastByUser[evicted.user] == evicted.id {
			delete(o.lastByUser, evicted.user)
		}
	}
}

// dispatch pushes one flagged message to OBS and records the outcome.
func (o *Observer) dispatch(ctx context.Context, ev obs.MessageEvent, flaggedBy string) {
	ctx, cancel := context.WithTimeout(ctx, o.DispatchTimeout)
	defer cancel()

	err := o.Highlighter.Highlight(ctx, ev)
	if err != nil {
		o.log.Warn("highlight failed", slog.String("user", ev.Username), slog.Any("err", err))
	} else {
		o.log.Info("highlight pushed", slog.String("user", ev.Username), slog.String("flagged_by", flaggedBy))
	}

	if o.DB == nil {
		return
	}
	rec := db.HighlightRecord{
		Username:  ev.Username,
		Message:   ev.Message,
		Color:     ev.Color,
		Timestamp: ev.Timestamp,
		FlaggedBy: flaggedBy,
		Success:   err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if dbErr := db.InsertHighlight(ctx, o.DB, rec); dbErr != nil {
		o.log.Error("failed to record highlight", slog.Any("err", dbErr))
	}
}

// isModerator reports whether the sender may flag messages: moderators and
// the broadcaster.
func isModerator(msg twitch.PrivateMessage) bool {
	if msg.User.Badges["moderator"] > 0 || msg.User.Badges["broadcaster"] > 0 {
		return true
	}
	return false
}
