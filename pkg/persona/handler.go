// Package persona implements the /persona command group: LLM-assisted
// persona generation and editing with confirm, backup and rollback.
package persona

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/backup"
	"github.com/dotsetgreg/dotpersona/pkg/cache"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/host"
	"github.com/dotsetgreg/dotpersona/pkg/llm"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
	"github.com/dotsetgreg/dotpersona/pkg/render"
	"github.com/dotsetgreg/dotpersona/pkg/session"
)

// Request identifies who issued a command and where replies go. Reply may
// be called more than once (progress notes, then the result), and also
// after the command method returns when a guided generation resumes.
type Request struct {
	SessionKey string
	SenderID   string
	SenderName string
	GroupID    string
	Reply      func(text string)
}

func (r Request) say(text string) {
	if r.Reply != nil && strings.TrimSpace(text) != "" {
		r.Reply(text)
	}
}

type Deps struct {
	Sessions      session.Store
	Waiter        *session.ReplyWaiter
	Backups       *backup.Store
	Personas      host.PersonaManager
	Conversations host.ConversationManager
	LLM           llm.Caller
	Renderer      render.Renderer
	Cache         cache.Cache
	Metrics       metrics.Recorder
	// ReplyTimeout overrides the configured guided-reply timeout when > 0.
	ReplyTimeout time.Duration
}

type Handler struct {
	cfg           config.PersonaConfig
	sessions      session.Store
	waiter        *session.ReplyWaiter
	backups       *backup.Store
	personas      host.PersonaManager
	conversations host.ConversationManager
	llm           llm.Caller
	renderer      render.Renderer
	metrics       metrics.Recorder
	intents       *IntentRecognizer
	locks         *session.KeyedMutex
	replyTimeout  time.Duration
	wg            sync.WaitGroup
	now           func() time.Time
}

func NewHandler(cfg config.PersonaConfig, deps Deps) *Handler {
	h := &Handler{
		cfg:           cfg,
		sessions:      deps.Sessions,
		waiter:        deps.Waiter,
		backups:       deps.Backups,
		personas:      deps.Personas,
		conversations: deps.Conversations,
		llm:           deps.LLM,
		renderer:      deps.Renderer,
		metrics:       deps.Metrics,
		locks:         session.NewKeyedMutex(),
		replyTimeout:  time.Duration(cfg.GuidedReplyTimeoutSecs) * time.Second,
		now:           time.Now,
	}
	if h.sessions == nil {
		h.sessions = session.NewMemoryStore()
	}
	if h.waiter == nil {
		h.waiter = session.NewReplyWaiter()
	}
	if h.metrics == nil {
		h.metrics = metrics.Noop()
	}
	if deps.ReplyTimeout > 0 {
		h.replyTimeout = deps.ReplyTimeout
	}
	if h.replyTimeout <= 0 {
		h.replyTimeout = 120 * time.Second
	}
	h.intents = NewIntentRecognizer(deps.LLM, deps.Cache, h.metrics, cfg.IDPrefix)
	return h
}

// Waiter exposes the reply waiter so the router can hand it plain messages.
func (h *Handler) Waiter() *session.ReplyWaiter { return h.waiter }

// Session returns a snapshot of a session's state.
func (h *Handler) Session(key string) session.Data { return h.sessions.Get(key) }

// Wait blocks until every in-flight guided generation has finished.
func (h *Handler) Wait() { h.wg.Wait() }

func splitCommand(args string) (string, string) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", ""
	}
	idx := strings.IndexFunc(args, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' })
	if idx < 0 {
		return args, ""
	}
	return args[:idx], strings.TrimSpace(args[idx+1:])
}

// Handle runs one /persona command. Commands of the same session never run
// concurrently.
func (h *Handler) Handle(ctx context.Context, req Request, args string) {
	unlock := h.locks.Lock(req.SessionKey)
	defer unlock()

	sub, rest := splitCommand(args)
	logger.DebugCF("persona", "Handling persona command", map[string]interface{}{
		"session_key": req.SessionKey,
		"command":     sub,
	})

	switch strings.ToLower(sub) {
	case "", "help", "帮助":
		h.Help(req)
	case "smart", "智能":
		h.Smart(ctx, req, rest)
	case "gen", "generate", "生成", "生成人格":
		h.Generate(ctx, req, rest)
	case "apply", "confirm", "确认", "确认生成":
		h.Apply(ctx, req)
	case "cancel", "取消", "取消操作":
		h.Cancel(req)
	case "status", "查看状态":
		h.Status(req)
	case "list", "人格列表":
		h.List(ctx, req)
	case "view", "查看详情":
		h.View(ctx, req, rest)
	case "history", "历史版本":
		h.History(req, rest)
	case "rollback", "版本回滚":
		h.Rollback(ctx, req, rest)
	case "refine", "优化人格":
		h.Refine(ctx, req, rest)
	case "shrink", "压缩人格":
		h.Shrink(ctx, req, rest)
	case "use", "select", "选择人格":
		h.Use(ctx, req, rest)
	case "activate", "应用人格":
		h.Activate(ctx, req, rest)
	case "delete", "删除人格":
		h.Delete(ctx, req, rest)
	case "convert", "转换格式":
		h.Convert(ctx, req, rest)
	case "newchat", "新建对话":
		h.NewChat(ctx, req, rest)
	default:
		h.Smart(ctx, req, args)
	}
}

const helpText = `🎭 Persona commands (/persona or /p)

🤖 Smart entry
/persona smart <request> - recognise what you want and do it
/persona <request> - same as smart

📝 Create and edit
/persona gen <description> - generate a persona
/persona refine <feedback> - improve the pending or selected persona
/persona shrink [light|medium|extreme] - compress the prompt
/persona convert <natural|markdown|xml|json|yaml> - change the prompt format

📋 Manage
/persona status - show session state
/persona apply - save the pending persona
/persona cancel - discard the pending persona
/persona list - list personas
/persona view [id] - show a persona
/persona history [id] - list saved versions
/persona rollback [id] - restore the latest saved version
/persona use <id> - select a persona for editing
/persona activate [id] - use a persona in this conversation
/persona newchat [id] - start a new conversation
/persona delete <id> - delete a persona created here

💡 Example flow:
  /persona gen a shy librarian who loves cats
  /persona refine make her a little more playful
  /persona apply
  /persona activate`

func (h *Handler) Help(req Request) {
	req.say(helpText)
}

func (h *Handler) card(icon, title, subtitle, content string, meta []render.Meta, footer string) string {
	var fallback strings.Builder
	fallback.WriteString(fmt.Sprintf("%s %s", icon, title))
	if subtitle != "" {
		fallback.WriteString("\n" + subtitle)
	}
	for _, m := range meta {
		fallback.WriteString(fmt.Sprintf("\n%s: %s", m.Key, m.Value))
	}
	fallback.WriteString("\n\n" + content)
	if footer != "" {
		fallback.WriteString("\n\n" + footer)
	}
	return render.CardOrText(h.renderer, render.PersonaCard, render.Card{
		Icon:     icon,
		Title:    title,
		Subtitle: subtitle,
		Meta:     meta,
		Content:  content,
		Footer:   footer,
	}, fallback.String())
}

func personaMeta(id, prompt string) []render.Meta {
	return []render.Meta{
		{Key: "Persona ID", Value: id},
		{Key: "Characters", Value: fmt.Sprintf("%d", charLen(prompt))},
	}
}
