// Package router parses chat commands and dispatches them against the
// tracker and catalog. It is plain request/response glue around the core.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"slotwatch/internal/center"
	"slotwatch/internal/tracker"
	kit "slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

const helpText = `These commands are supported:
/help — display this text.
/list — list centers to track.
/track <center> — begins to track a center on your behalf.
/untrack <center> — stops tracking a center on your behalf.
/status — lists the status of your tracked centers.`

// Tracking is the slice of the tracker the router consumes.
type Tracking interface {
	Track(ctx context.Context, chatID int64, user tracker.UserID, centerID center.ID) error
	Untrack(ctx context.Context, user tracker.UserID, centerID center.ID) error
	SubscriberData(ctx context.Context, user tracker.UserID) (tracker.Record, bool)
}

// Replier sends command responses (shared with the notification path so
// everything obeys one rate limit).
type Replier interface {
	Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error
	SendMarkdown(ctx context.Context, to kit.ChatTarget, text string) error
}

type Router struct {
	tracker Tracking
	centers *center.Catalog
	replier Replier
	log     logx.Logger
}

func New(tr Tracking, centers *center.Catalog, replier Replier, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{tracker: tr, centers: centers, replier: replier, log: log}
}

// DispatchLoop consumes updates until ctx is done. Handler panics are
// contained per update.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			r.dispatch(ctx, up.Message)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, m *kit.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command handler",
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	cmd, args, ok := parseCommand(m.Text)
	if !ok {
		return
	}
	to := kit.ChatTarget{ChatID: m.ChatID}

	switch cmd {
	case "help", "start":
		r.replyPlain(ctx, to, helpText)
	case "list":
		r.replyMarkdown(ctx, to, strings.Join(r.centers.DisplayLines(), "\n"))
	case "track":
		r.handleTrack(ctx, to, m, args)
	case "untrack":
		r.handleUntrack(ctx, to, m, args)
	case "status":
		r.handleStatus(ctx, to, m)
	default:
		r.log.Debug("unknown command", logx.String("cmd", cmd))
	}
}

func (r *Router) handleTrack(ctx context.Context, to kit.ChatTarget, m *kit.Message, args []string) {
	c, ok := r.resolveCenter(ctx, to, args)
	if !ok {
		return
	}
	if m.FromID == 0 {
		r.replyPlain(ctx, to, "Could not understand who sent this?")
		return
	}
	if err := r.tracker.Track(ctx, m.ChatID, m.FromID, c.ID); err != nil {
		r.replyError(ctx, to, m.FromID, err)
		return
	}
	r.replyPlain(ctx, to, fmt.Sprintf("Now tracking %s on your behalf", c.FullName))
}

func (r *Router) handleUntrack(ctx context.Context, to kit.ChatTarget, m *kit.Message, args []string) {
	c, ok := r.resolveCenter(ctx, to, args)
	if !ok {
		return
	}
	if m.FromID == 0 {
		r.replyPlain(ctx, to, "Could not understand who sent this?")
		return
	}
	if err := r.tracker.Untrack(ctx, m.FromID, c.ID); err != nil {
		r.replyError(ctx, to, m.FromID, err)
		return
	}
	r.replyPlain(ctx, to, fmt.Sprintf("Stopped tracking %s on your behalf", c.FullName))
}

func (r *Router) handleStatus(ctx context.Context, to kit.ChatTarget, m *kit.Message) {
	if m.FromID == 0 {
		r.replyPlain(ctx, to, "Could not understand who sent this?")
		return
	}
	rec, _ := r.tracker.SubscriberData(ctx, m.FromID)

	var lines []string
	for _, id := range rec.Subscriptions {
		if c, ok := r.centers.Get(id); ok {
			lines = append(lines, c.DisplayLine())
		}
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		lines = []string{"None"}
	}
	r.replyMarkdown(ctx, to, "Your tracked centers\n"+strings.Join(lines, "\n"))
}

func (r *Router) resolveCenter(ctx context.Context, to kit.ChatTarget, args []string) (center.Center, bool) {
	if len(args) == 0 {
		r.replyPlain(ctx, to, "Which center? See /list for the short names.")
		return center.Center{}, false
	}
	c, ok := r.centers.ByShortName(args[0])
	if !ok {
		r.replyPlain(ctx, to, "Could not find center")
		return center.Center{}, false
	}
	return c, true
}

func (r *Router) replyError(ctx context.Context, to kit.ChatTarget, user tracker.UserID, err error) {
	if tracker.IsDomain(err) {
		// User-facing failure; show it verbatim, don't log it as a system error.
		r.replyPlain(ctx, to, err.Error())
		return
	}
	r.log.Error("command failed", logx.Int64("user", user), logx.Err(err))
	r.replyPlain(ctx, to, "Could not update your subscriptions, please try again later.")
}

func (r *Router) replyPlain(ctx context.Context, to kit.ChatTarget, text string) {
	if err := r.replier.Send(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (r *Router) replyMarkdown(ctx context.Context, to kit.ChatTarget, text string) {
	if err := r.replier.SendMarkdown(ctx, to, text); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

// parseCommand extracts "/cmd arg..." from a message, tolerating the
// "@botname" suffix Telegram appends in group chats.
func parseCommand(text string) (cmd string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd = strings.ToLower(fields[0])
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], cmd != ""
}
