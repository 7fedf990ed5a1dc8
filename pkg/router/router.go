// Package router consumes inbound chat messages and hands them to the
// persona and profile command groups.
package router

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
	"github.com/dotsetgreg/dotpersona/pkg/host"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/persona"
	"github.com/dotsetgreg/dotpersona/pkg/profile"
)

type commandGroup int

const (
	groupNone commandGroup = iota
	groupPersona
	groupProfile
)

var commandNames = map[string]commandGroup{
	"/persona": groupPersona,
	"/p":       groupPersona,
	"/人格":      groupPersona,
	"/profile": groupProfile,
	"/画像":      groupProfile,
}

// parseCommand splits "/persona gen a cat" into its group and arguments.
func parseCommand(content string) (commandGroup, string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return groupNone, ""
	}
	name, rest := content, ""
	if idx := strings.IndexAny(content, " \t\n"); idx >= 0 {
		name, rest = content[:idx], strings.TrimSpace(content[idx+1:])
	}
	g, ok := commandNames[strings.ToLower(name)]
	if !ok {
		return groupNone, ""
	}
	return g, rest
}

// Router delegates commands to the persona handler and the profile
// commands. Work for one session runs in arrival order on its own lane;
// different sessions run concurrently.
type Router struct {
	bus      *bus.MessageBus
	personas *persona.Handler
	profiles *profile.Commands
	history  host.MessageHistory

	running atomic.Bool
	wg      sync.WaitGroup
	mu      sync.Mutex
	lanes   map[string][]func()
}

type Option func(*Router)

// WithProfiles enables the /profile commands and the message hook.
func WithProfiles(c *profile.Commands) Option {
	return func(r *Router) { r.profiles = c }
}

// WithHistory records every plain message and reply.
func WithHistory(h host.MessageHistory) Option {
	return func(r *Router) { r.history = h }
}

func New(mb *bus.MessageBus, personas *persona.Handler, opts ...Option) *Router {
	r := &Router{
		bus:      mb,
		personas: personas,
		lanes:    make(map[string][]func()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes the inbound stream until ctx is done or the bus closes.
func (r *Router) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		r.Dispatch(ctx, msg)
	}
}

func (r *Router) Running() bool { return r.running.Load() }

// Wait blocks until every queued job has run.
func (r *Router) Wait() { r.wg.Wait() }

func sessionKeyOf(msg bus.InboundMessage) string {
	if msg.SessionKey != "" {
		return msg.SessionKey
	}
	return msg.Channel + ":" + msg.ChatID
}

// Dispatch queues the work for one inbound message.
func (r *Router) Dispatch(ctx context.Context, msg bus.InboundMessage) {
	key := sessionKeyOf(msg)
	reply := r.replier(ctx, msg, key)
	group, args := parseCommand(msg.Content)

	switch group {
	case groupPersona:
		req := persona.Request{
			SessionKey: key,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			GroupID:    msg.GroupID,
			Reply:      reply,
		}
		r.submit(key, func() { r.personas.Handle(ctx, req, args) })
		return
	case groupProfile:
		if r.profiles == nil {
			r.submit(key, func() { reply("Profile collection is disabled.") })
			return
		}
		req := profile.Request{
			SessionKey: key,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			GroupID:    msg.GroupID,
			Reply:      reply,
		}
		r.submit(key, func() { r.profiles.Handle(ctx, req, args) })
		return
	}

	r.submit(key, func() {
		if r.personas.Waiter().Deliver(key, msg.Content) {
			logger.DebugCF("router", "Delivered reply to waiting workflow", map[string]interface{}{
				"session_key": key,
			})
		}
		r.record(ctx, host.Record{
			Session:    key,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			Role:       host.RoleUser,
			Content:    msg.Content,
			Timestamp:  msg.ReceivedAt,
		})
	})
	if r.profiles != nil && !strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
		observed := profile.Message{
			UserID:     msg.SenderID,
			Nickname:   msg.SenderName,
			Content:    msg.Content,
			GroupID:    msg.GroupID,
			SessionKey: key,
		}
		r.submit("profile:"+msg.SenderID, func() {
			r.profiles.Service().Observe(ctx, observed)
		})
	}
}

func (r *Router) replier(ctx context.Context, msg bus.InboundMessage, key string) func(string) {
	return func(text string) {
		r.bus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: text,
		})
		r.record(ctx, host.Record{
			Session:    key,
			SenderID:   "bot",
			SenderName: "bot",
			Role:       host.RoleAssistant,
			Content:    text,
			Timestamp:  time.Now(),
		})
	}
}

func (r *Router) record(ctx context.Context, rec host.Record) {
	if r.history == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := r.history.Append(ctx, rec); err != nil {
		logger.DebugCF("router", "Recording history failed", map[string]interface{}{
			"session_key": rec.Session,
			"error":       err.Error(),
		})
	}
}

// submit appends job to the lane of key, starting a worker when the lane
// was idle. The worker exits once the lane is empty.
func (r *Router) submit(key string, job func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if queue, busy := r.lanes[key]; busy {
		r.lanes[key] = append(queue, job)
		return
	}
	r.lanes[key] = []func(){job}
	r.wg.Add(1)
	go r.work(key)
}

func (r *Router) work(key string) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		queue := r.lanes[key]
		if len(queue) == 0 {
			delete(r.lanes, key)
			r.mu.Unlock()
			return
		}
		job := queue[0]
		r.lanes[key] = queue[1:]
		r.mu.Unlock()

		r.run(key, job)
	}
}

func (r *Router) run(key string, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("router", "Job panicked", map[string]interface{}{
				"session_key": key,
				"panic":       rec,
			})
		}
	}()
	job()
}
