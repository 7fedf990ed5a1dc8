package persona

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	json "github.com/goccy/go-json"

	"github.com/dotsetgreg/dotpersona/pkg/cache"
	"github.com/dotsetgreg/dotpersona/pkg/llm"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
)

type Action string

const (
	ActionGenerate Action = "generate"
	ActionRefine   Action = "refine"
	ActionShrink   Action = "shrink"
	ActionList     Action = "list"
	ActionView     Action = "view"
	ActionActivate Action = "activate"
	ActionDelete   Action = "delete"
	ActionRollback Action = "rollback"
	ActionStatus   Action = "status"
	ActionApply    Action = "apply"
	ActionCancel   Action = "cancel"
	ActionHelp     Action = "help"
)

var knownActions = map[Action]bool{
	ActionGenerate: true, ActionRefine: true, ActionShrink: true, ActionList: true,
	ActionView: true, ActionActivate: true, ActionDelete: true, ActionRollback: true,
	ActionStatus: true, ActionApply: true, ActionCancel: true, ActionHelp: true,
}

type Intent struct {
	Action      Action `json:"action"`
	Description string `json:"description,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
	Intensity   string `json:"intensity,omitempty"`
	PersonaID   string `json:"persona_id,omitempty"`
	Source      string `json:"-"`
}

type intentContext struct {
	CurrentPersonaID string
	PersonaList      string
	State            string
	HasPending       bool
}

// IntentRecognizer maps free text onto a persona action: model first,
// keyword rules when the model fails or answers with something unusable.
type IntentRecognizer struct {
	llm      llm.Caller
	cache    cache.Cache
	metrics  metrics.Recorder
	idPrefix string
}

func NewIntentRecognizer(caller llm.Caller, c cache.Cache, rec metrics.Recorder, idPrefix string) *IntentRecognizer {
	if c == nil {
		c = cache.New(false, 0, 0)
	}
	if rec == nil {
		rec = metrics.Noop()
	}
	return &IntentRecognizer{llm: caller, cache: c, metrics: rec, idPrefix: idPrefix}
}

func (r *IntentRecognizer) cacheKey(query string, ic intentContext) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{query, ic.CurrentPersonaID, ic.State, ic.PersonaList}, "\x00")))
	return "intent:" + hex.EncodeToString(sum[:16])
}

func (r *IntentRecognizer) Recognize(ctx context.Context, sessionKey, query string, ic intentContext) Intent {
	key := r.cacheKey(query, ic)
	if raw, ok := r.cache.Get(key); ok {
		var cached Intent
		if err := json.Unmarshal(raw, &cached); err == nil && knownActions[cached.Action] {
			r.metrics.IncIntentCache(true)
			cached.Source = "cache"
			return cached
		}
	}
	r.metrics.IncIntentCache(false)

	if r.llm != nil {
		text, err := r.llm.Call(ctx, sessionKey, "intent", intentPrompt(query, ic))
		if err == nil {
			var in Intent
			if err := llm.DecodeJSONObject(text, &in); err == nil {
				in.Action = Action(strings.ToLower(strings.TrimSpace(string(in.Action))))
				if knownActions[in.Action] {
					in.Source = "llm"
					if raw, err := json.Marshal(in); err == nil {
						r.cache.Set(key, raw)
					}
					return in
				}
			}
			logger.DebugCF("persona", "Intent output unusable, using keyword rules", map[string]interface{}{
				"session_key": sessionKey,
			})
		} else {
			logger.WarnCF("persona", "Intent recognition call failed, using keyword rules", map[string]interface{}{
				"session_key": sessionKey,
				"error":       err.Error(),
			})
		}
	}

	in := KeywordIntent(query, ic.HasPending, r.idPrefix)
	in.Source = "keywords"
	return in
}

type keywordRule struct {
	action   Action
	keywords []string
}

// Checked in order; earlier rules win. Latin keywords match whole words,
// the others match anywhere in the text.
var keywordRules = []keywordRule{
	{ActionCancel, []string{"cancel", "取消", "算了", "不要了"}},
	{ActionApply, []string{"confirm", "apply", "save", "确认", "保存", "就这样"}},
	{ActionRollback, []string{"rollback", "roll back", "undo", "revert", "回滚", "撤销", "恢复"}},
	{ActionDelete, []string{"delete", "remove", "删除"}},
	{ActionList, []string{"list", "列表", "有哪些", "所有人格"}},
	{ActionStatus, []string{"status", "状态"}},
	{ActionShrink, []string{"shrink", "compress", "shorter", "压缩", "精简", "缩短"}},
	{ActionActivate, []string{"activate", "switch to", "use", "切换", "激活", "使用"}},
	{ActionView, []string{"view", "show", "查看", "看看"}},
	{ActionGenerate, []string{"generate", "create", "make", "生成", "创建", "来一个", "做一个"}},
	{ActionRefine, []string{"refine", "improve", "more", "less", "bit", "优化", "修改", "更", "改成"}},
}

// While an edit is pending, loose verbs like "make" describe a change to
// it rather than a new persona.
var pendingRules = func() []keywordRule {
	out := make([]keywordRule, 0, len(keywordRules))
	var generate keywordRule
	for _, rule := range keywordRules {
		switch rule.action {
		case ActionGenerate:
			generate = keywordRule{ActionGenerate, []string{"generate", "create", "生成", "创建"}}
		case ActionRefine:
			out = append(out, rule, generate)
		default:
			out = append(out, rule)
		}
	}
	return out
}()

var (
	personaIDToken = regexp.MustCompile(`[A-Za-z0-9_\p{Han}-]+`)
	latinWord      = regexp.MustCompile(`[a-z0-9']+`)
)

func isLatin(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// containsWords reports whether the word sequence of kw appears in words.
func containsWords(words []string, kw string) bool {
	want := strings.Fields(kw)
	if len(want) == 0 {
		return false
	}
	for i := 0; i+len(want) <= len(words); i++ {
		match := true
		for j, w := range want {
			if words[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// KeywordIntent is the rule-based fallback for intent recognition.
func KeywordIntent(query string, hasPending bool, idPrefix string) Intent {
	lower := strings.ToLower(strings.TrimSpace(query))
	words := latinWord.FindAllString(lower, -1)
	rules := keywordRules
	if hasPending {
		rules = pendingRules
	}
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if isLatin(kw) {
				if !containsWords(words, kw) {
					continue
				}
			} else if !strings.Contains(lower, kw) {
				continue
			}
			in := Intent{Action: rule.action}
			switch rule.action {
			case ActionGenerate:
				in.Description = query
			case ActionRefine:
				in.Feedback = query
			case ActionShrink:
				in.Intensity = string(intensityFromText(lower))
			case ActionDelete, ActionActivate, ActionView:
				in.PersonaID = findPersonaID(query, idPrefix)
			}
			return in
		}
	}
	if hasPending && lower != "" {
		return Intent{Action: ActionRefine, Feedback: query}
	}
	return Intent{Action: ActionHelp}
}

func intensityFromText(lower string) Intensity {
	switch {
	case strings.Contains(lower, "extreme"), strings.Contains(lower, "极限"):
		return IntensityExtreme
	case strings.Contains(lower, "medium"), strings.Contains(lower, "中度"):
		return IntensityMedium
	default:
		return IntensityLight
	}
}

func findPersonaID(query, prefix string) string {
	if prefix == "" {
		return ""
	}
	for _, tok := range personaIDToken.FindAllString(query, -1) {
		if strings.HasPrefix(tok, prefix) && len(tok) > len(prefix) {
			return tok
		}
	}
	return ""
}
