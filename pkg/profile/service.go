// Package profile builds user profiles from the messages of monitored
// users. Messages are buffered per user and handed to the model in batches.
package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/host"
	"github.com/dotsetgreg/dotpersona/pkg/kvstore"
	"github.com/dotsetgreg/dotpersona/pkg/llm"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
)

const (
	tableProfiles = "user_profiles"
	tableMonitors = "profile_monitors"
	tableBuffers  = "message_buffers"
)

// Message is one chat message offered to the profile collector.
type Message struct {
	UserID     string
	Nickname   string
	Content    string
	GroupID    string
	SessionKey string
}

// BufferStatus describes a user's pending batch.
type BufferStatus struct {
	Count     int
	LastFlush time.Time
	// DueNow is set when the next message check would flush.
	DueNow bool
	// AgeDueAt is when an age-based flush becomes possible; zero while the
	// buffer holds fewer than the time-floor messages.
	AgeDueAt time.Time
	// Remaining is how many more messages trigger a count-based flush.
	Remaining int
}

type Service struct {
	cfg     config.ProfileConfig
	policy  FlushPolicy
	store   *kvstore.Store
	llm     llm.Caller
	history host.MessageHistory
	metrics metrics.Recorder
	now     func() time.Time

	mu       sync.Mutex
	profiles map[string]*UserProfile
	monitors map[string]*Monitor
	buffers  map[string]*Buffer
	flushing map[string]bool
}

type Option func(*Service)

// WithHistory enables surrounding-conversation context in update prompts.
func WithHistory(h host.MessageHistory) Option {
	return func(s *Service) { s.history = h }
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService loads persisted profiles, monitors and buffers from store.
func NewService(cfg config.ProfileConfig, store *kvstore.Store, caller llm.Caller, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:   cfg,
		store: store,
		llm:   caller,
		policy: FlushPolicy{
			MinMessages: cfg.MinMessages,
			MaxAge:      time.Duration(cfg.MaxBufferAgeSecs) * time.Second,
			TimeFloor:   cfg.TimeFloorMessages,
		},
		metrics:  metrics.Noop(),
		now:      time.Now,
		profiles: make(map[string]*UserProfile),
		monitors: make(map[string]*Monitor),
		buffers:  make(map[string]*Buffer),
		flushing: make(map[string]bool),
	}
	if s.policy.TimeFloor <= 0 {
		s.policy.TimeFloor = 3
	}
	if s.cfg.SaveEvery <= 0 {
		s.cfg.SaveEvery = 5
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) load() error {
	if _, err := s.store.Load(tableProfiles, &s.profiles); err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	if _, err := s.store.Load(tableMonitors, &s.monitors); err != nil {
		return fmt.Errorf("load monitors: %w", err)
	}
	if _, err := s.store.Load(tableBuffers, &s.buffers); err != nil {
		return fmt.Errorf("load buffers: %w", err)
	}
	now := s.now()
	for id, b := range s.buffers {
		if b == nil {
			delete(s.buffers, id)
			continue
		}
		if b.LastFlush.IsZero() {
			b.LastFlush = now
		}
	}
	s.metrics.SetBufferedMessages(s.bufferedLocked())
	logger.InfoCF("profile", "Profile data loaded", map[string]interface{}{
		"profiles": len(s.profiles),
		"monitors": len(s.monitors),
		"buffers":  len(s.buffers),
	})
	return nil
}

// The save helpers run with s.mu held so snapshots reach disk in order.

func (s *Service) saveProfilesLocked() {
	if err := s.store.Save(tableProfiles, s.profiles); err != nil {
		logger.ErrorCF("profile", "Saving profiles failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) saveMonitorsLocked() {
	if err := s.store.Save(tableMonitors, s.monitors); err != nil {
		logger.ErrorCF("profile", "Saving monitors failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Service) saveBuffersLocked() {
	if err := s.store.Save(tableBuffers, s.buffers); err != nil {
		logger.ErrorCF("profile", "Saving buffers failed", map[string]interface{}{"error": err.Error()})
	}
	s.metrics.SetBufferedMessages(s.bufferedLocked())
}

func (s *Service) bufferedLocked() int {
	n := 0
	for _, b := range s.buffers {
		n += len(b.Messages)
	}
	return n
}

// Close writes every table.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveProfilesLocked()
	s.saveMonitorsLocked()
	s.saveBuffersLocked()
}

// AddMonitor starts collecting messages from userID, replacing any earlier
// monitor of the same user.
func (s *Service) AddMonitor(userID string, mode Mode, groupIDs []string, createdBy string) (Monitor, error) {
	if mode == ModeGroup && len(groupIDs) == 0 {
		return Monitor{}, ErrGroupRequired
	}
	now := s.now()
	m := &Monitor{
		UserID:    userID,
		Mode:      mode,
		GroupIDs:  append([]string(nil), groupIDs...),
		Enabled:   true,
		CreatedAt: now,
		CreatedBy: createdBy,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors[userID] = m
	s.saveMonitorsLocked()
	if _, ok := s.profiles[userID]; !ok {
		s.profiles[userID] = &UserProfile{UserID: userID, CreatedAt: now}
		s.saveProfilesLocked()
	}
	if _, ok := s.buffers[userID]; !ok {
		s.buffers[userID] = newBuffer(userID, now)
		s.saveBuffersLocked()
	}
	logger.InfoCF("profile", "Monitor added", map[string]interface{}{
		"user_id": userID,
		"mode":    string(mode),
	})
	return *m, nil
}

func (s *Service) RemoveMonitor(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monitors[userID]; !ok {
		return ErrNotMonitored
	}
	delete(s.monitors, userID)
	s.saveMonitorsLocked()
	logger.InfoCF("profile", "Monitor removed", map[string]interface{}{"user_id": userID})
	return nil
}

func (s *Service) Monitors() []Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Service) IsMonitored(userID, groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[userID]
	return ok && m.Accepts(groupID)
}

func (s *Service) Profile(userID string) (UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return UserProfile{}, false
	}
	return p.clone(), true
}

func (s *Service) Profiles() []UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// DeleteProfile removes a user's profile together with its monitor and
// buffer. It returns ErrProfileNotFound when there was no profile, after
// still removing any monitor or buffer.
func (s *Service) DeleteProfile(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, had := s.profiles[userID]
	if had {
		delete(s.profiles, userID)
		s.saveProfilesLocked()
	}
	if _, ok := s.monitors[userID]; ok {
		delete(s.monitors, userID)
		s.saveMonitorsLocked()
	}
	if _, ok := s.buffers[userID]; ok {
		delete(s.buffers, userID)
		s.saveBuffersLocked()
	}
	if !had {
		return ErrProfileNotFound
	}
	logger.InfoCF("profile", "Profile deleted", map[string]interface{}{"user_id": userID})
	return nil
}

func (s *Service) BufferStatus(userID string) (BufferStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[userID]
	if !ok {
		return BufferStatus{}, false
	}
	n := len(b.Messages)
	st := BufferStatus{
		Count:     n,
		LastFlush: b.LastFlush,
		DueNow:    s.policy.ShouldFlush(n, s.now().Sub(b.LastFlush)),
	}
	if n < s.policy.MinMessages {
		st.Remaining = s.policy.MinMessages - n
	}
	if n >= s.policy.TimeFloor {
		st.AgeDueAt = b.LastFlush.Add(s.policy.MaxAge)
	}
	return st, true
}

// Observe buffers msg when its sender is monitored and flushes the buffer
// once it is due. It reports whether a flush ran. It never fails the chat
// flow: problems are logged at debug level and swallowed.
func (s *Service) Observe(ctx context.Context, msg Message) bool {
	if msg.UserID == "" || msg.Content == "" {
		return false
	}
	s.mu.Lock()
	m, ok := s.monitors[msg.UserID]
	if !ok || !m.Accepts(msg.GroupID) {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	b, ok := s.buffers[msg.UserID]
	if !ok {
		b = newBuffer(msg.UserID, now)
		s.buffers[msg.UserID] = b
	}
	b.Messages = append(b.Messages, BufferedMessage{
		Content:    msg.Content,
		Timestamp:  now,
		GroupID:    msg.GroupID,
		Nickname:   msg.Nickname,
		SessionKey: msg.SessionKey,
	})
	if p, ok := s.profiles[msg.UserID]; ok && msg.Nickname != "" {
		p.Nickname = msg.Nickname
	}

	trigger, due := b.due(s.policy, now)
	if due && !s.flushing[msg.UserID] {
		s.flushing[msg.UserID] = true
		s.mu.Unlock()
		if err := s.flush(ctx, msg.UserID, trigger); err != nil {
			logger.DebugCF("profile", "Profile flush failed", map[string]interface{}{
				"user_id": msg.UserID,
				"error":   err.Error(),
			})
		}
		return true
	}
	if len(b.Messages)%s.cfg.SaveEvery == 0 {
		s.saveBuffersLocked()
	} else {
		s.metrics.SetBufferedMessages(s.bufferedLocked())
	}
	s.mu.Unlock()
	logger.DebugCF("profile", "Message buffered", map[string]interface{}{
		"user_id":  msg.UserID,
		"buffered": len(b.Messages),
	})
	return false
}

// ForceUpdate flushes a user's buffer regardless of the thresholds.
func (s *Service) ForceUpdate(ctx context.Context, userID string) error {
	s.mu.Lock()
	b, ok := s.buffers[userID]
	if !ok || len(b.Messages) == 0 {
		s.mu.Unlock()
		return ErrEmptyBuffer
	}
	if s.flushing[userID] {
		s.mu.Unlock()
		return fmt.Errorf("update of %s already running", userID)
	}
	s.flushing[userID] = true
	s.mu.Unlock()
	return s.flush(ctx, userID, "manual")
}

// Sweep flushes every buffer that has become due by age or count, for
// users who went quiet before their next message could trigger a flush.
// It returns the number of buffers flushed successfully.
func (s *Service) Sweep(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	type job struct{ userID, trigger string }
	var jobs []job
	for id, b := range s.buffers {
		if s.flushing[id] {
			continue
		}
		if trigger, due := b.due(s.policy, now); due {
			s.flushing[id] = true
			jobs = append(jobs, job{id, trigger})
		}
	}
	s.mu.Unlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].userID < jobs[j].userID })

	flushed := 0
	for i, j := range jobs {
		if ctx.Err() != nil {
			s.mu.Lock()
			for _, rest := range jobs[i:] {
				delete(s.flushing, rest.userID)
			}
			s.mu.Unlock()
			break
		}
		if err := s.flush(ctx, j.userID, "sweep_"+j.trigger); err != nil {
			logger.WarnCF("profile", "Scheduled profile flush failed", map[string]interface{}{
				"user_id": j.userID,
				"error":   err.Error(),
			})
			continue
		}
		flushed++
	}
	return flushed
}

type profileResult struct {
	ProfileText       *string   `json:"profile_text"`
	Traits            *[]string `json:"traits"`
	Interests         *[]string `json:"interests"`
	SpeakingStyle     *string   `json:"speaking_style"`
	EmotionalTendency *string   `json:"emotional_tendency"`
}

// flush drains the buffer before calling the model, so a slow call never
// sees the same batch twice. On failure the batch is put back (only into
// an empty buffer) and the profile is left alone. The caller must have set
// s.flushing[userID].
func (s *Service) flush(ctx context.Context, userID, trigger string) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.IncProfileFlush(trigger, outcome)
	}()

	s.mu.Lock()
	b, ok := s.buffers[userID]
	if !ok || len(b.Messages) == 0 {
		delete(s.flushing, userID)
		s.mu.Unlock()
		return ErrEmptyBuffer
	}
	msgs := b.drain(s.now())
	s.saveBuffersLocked()
	var current UserProfile
	if p, ok := s.profiles[userID]; ok {
		current = p.clone()
	} else {
		current = UserProfile{UserID: userID}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.flushing, userID)
		s.mu.Unlock()
	}()

	sessionKey := msgs[len(msgs)-1].SessionKey
	transcript := formatMessages(msgs)
	surrounding := formatContext(s.contextRecords(ctx, sessionKey), userID)

	var prompt string
	if current.ProfileText == "" {
		nickname := current.Nickname
		if msgs[0].Nickname != "" {
			nickname = msgs[0].Nickname
		}
		prompt = initPrompt(userID, nickname, transcript, surrounding)
	} else {
		prompt = updatePrompt(current, transcript, surrounding)
	}

	var res profileResult
	text, err := s.llm.Call(ctx, sessionKey, "profile", prompt)
	if err == nil {
		err = llm.DecodeJSONObject(text, &res)
	}
	if err != nil {
		s.mu.Lock()
		restored := false
		if cur, ok := s.buffers[userID]; ok && cur == b {
			restored = b.requeue(msgs)
		}
		s.saveBuffersLocked()
		s.mu.Unlock()
		s.metrics.IncBufferRequeue(restored)
		logger.ErrorCF("profile", "Profile update failed", map[string]interface{}{
			"user_id":  userID,
			"messages": len(msgs),
			"restored": restored,
			"error":    err.Error(),
		})
		return fmt.Errorf("update profile %s: %w", userID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		if _, monitored := s.monitors[userID]; !monitored {
			// Deleted while the model was running.
			return nil
		}
		p = &UserProfile{UserID: userID, CreatedAt: s.now()}
		s.profiles[userID] = p
	}
	res.applyTo(p)
	p.MessageCount += len(msgs)
	p.LastUpdated = s.now()
	s.saveProfilesLocked()
	logger.InfoCF("profile", "Profile updated", map[string]interface{}{
		"user_id":       userID,
		"trigger":       trigger,
		"batch":         len(msgs),
		"message_count": p.MessageCount,
	})
	return nil
}

func (r profileResult) applyTo(p *UserProfile) {
	if r.ProfileText != nil {
		p.ProfileText = *r.ProfileText
	}
	if r.Traits != nil {
		p.Traits = *r.Traits
	}
	if r.Interests != nil {
		p.Interests = *r.Interests
	}
	if r.SpeakingStyle != nil {
		p.SpeakingStyle = *r.SpeakingStyle
	}
	if r.EmotionalTendency != nil {
		p.EmotionalTendency = *r.EmotionalTendency
	}
}

func (s *Service) contextRecords(ctx context.Context, sessionKey string) []host.Record {
	if s.history == nil || s.cfg.ContextWindow <= 0 || sessionKey == "" {
		return nil
	}
	records, err := s.history.Recent(ctx, sessionKey, 1, s.cfg.ContextWindow)
	if err != nil {
		logger.WarnCF("profile", "Could not load conversation context", map[string]interface{}{
			"session_key": sessionKey,
			"error":       err.Error(),
		})
		return nil
	}
	return records
}
