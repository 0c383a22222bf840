package app

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
)

const botID = "bot-1"

// --- In-memory notification store ---

type memNotifications struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.NotificationRecord
}

func newMemNotifications(records ...domain.NotificationRecord) *memNotifications {
	m := &memNotifications{records: make(map[uuid.UUID]domain.NotificationRecord)}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

func (m *memNotifications) matching(dest domain.Destination, keep func(domain.NotificationRecord) bool) []domain.NotificationRecord {
	var out []domain.NotificationRecord
	for _, r := range m.records {
		if r.ServiceType == dest.ServiceType && r.AccountID == dest.AccountID &&
			r.GuildID == dest.GuildID && r.ChannelID == dest.ChannelID &&
			r.Outcome.Success() && keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.NotificationRecord) int { return b.StreamStartTime.Compare(a.StreamStartTime) })
	return out
}

func (m *memNotifications) History(_ context.Context, dest domain.Destination) ([]domain.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matching(dest, func(domain.NotificationRecord) bool { return true }), nil
}

func (m *memNotifications) LatestWithMessage(_ context.Context, dest domain.Destination) (*domain.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.matching(dest, domain.NotificationRecord.HasMessage)
	if len(recs) == 0 {
		return nil, domain.ErrNotificationNotFound
	}
	return &recs[0], nil
}

func (m *memNotifications) ListWithMessageSince(_ context.Context, dest domain.Destination, since time.Time) ([]domain.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matching(dest, func(r domain.NotificationRecord) bool {
		return r.HasMessage() && !r.StreamStartTime.Before(since)
	}), nil
}

func (m *memNotifications) AddOrGet(_ context.Context, candidate domain.NotificationRecord) (*domain.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Key() == candidate.Key() {
			return &r, nil
		}
	}
	m.records[candidate.ID] = candidate
	return &candidate, nil
}

func (m *memNotifications) Update(ctx context.Context, record domain.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; !ok {
		return domain.ErrNotificationNotFound
	}
	m.records[record.ID] = record
	return nil
}

func (m *memNotifications) get(id uuid.UUID) domain.NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *memNotifications) active(dest domain.Destination) []domain.NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matching(dest, func(domain.NotificationRecord) bool { return true })
}

// --- In-memory subscription store ---

type memSubscriptions struct {
	mu      sync.Mutex
	subs    []domain.Subscription
	removed map[uuid.UUID]string
}

func newMemSubscriptions(subs ...domain.Subscription) *memSubscriptions {
	return &memSubscriptions{subs: subs, removed: make(map[uuid.UUID]string)}
}

func (m *memSubscriptions) FindByAccount(_ context.Context, service domain.ServiceType, accountID string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscription
	for _, s := range m.subs {
		if s.ServiceType == service && s.AccountID == accountID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSubscriptions) ListAccounts(_ context.Context, service domain.ServiceType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.subs {
		if s.ServiceType == service && !slices.Contains(out, s.AccountID) {
			out = append(out, s.AccountID)
		}
	}
	return out, nil
}

func (m *memSubscriptions) Remove(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.subs, func(s domain.Subscription) bool { return s.ID == id })
	if idx < 0 {
		return domain.ErrSubscriptionNotFound
	}
	m.subs = slices.Delete(m.subs, idx, idx+1)
	m.removed[id] = reason
	return nil
}

func (m *memSubscriptions) wasRemoved(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.removed[id]
	return ok
}

// --- In-memory mutex ---

type memMutex struct {
	mu     sync.Mutex
	owners map[string]string
}

func newMemMutex() *memMutex {
	return &memMutex{owners: make(map[string]string)}
}

func (m *memMutex) TryAcquire(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.owners[key]; held {
		return false, nil
	}
	m.owners[key] = owner
	return true, nil
}

func (m *memMutex) Release(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[key] != owner {
		return false, nil
	}
	delete(m.owners, key)
	return true, nil
}

func (m *memMutex) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.owners[key]
	return ok
}

// --- Chat platform fake ---

type fakeChat struct {
	mu       sync.Mutex
	messages map[string]domain.ChatMessage
	nextID   atomic.Int64
	sends    atomic.Int64
	edits    atomic.Int64
	deletes  atomic.Int64
	roles    map[string]string

	sendFn   func(channelID string, msg domain.RenderedMessage) (string, error)
	editFn   func(channelID, messageID string) error
	fetchFn  func(channelID, messageID string) (*domain.ChatMessage, error)
	deleteFn func(channelID, messageID string) error
	guildFn  func(guildID string) (*domain.Guild, error)
	chanFn   func(channelID string) (*domain.Channel, error)
}

func newFakeChat() *fakeChat {
	return &fakeChat{messages: make(map[string]domain.ChatMessage), roles: map[string]string{}}
}

func (c *fakeChat) BotUserID() string { return botID }

func (c *fakeChat) ResolveGuild(_ context.Context, guildID string) (*domain.Guild, error) {
	if c.guildFn != nil {
		return c.guildFn(guildID)
	}
	return &domain.Guild{ID: guildID, Name: "guild", Roles: c.roles}, nil
}

func (c *fakeChat) ResolveChannel(_ context.Context, channelID string) (*domain.Channel, error) {
	if c.chanFn != nil {
		return c.chanFn(channelID)
	}
	return &domain.Channel{ID: channelID, Name: "alerts"}, nil
}

func (c *fakeChat) FetchMessage(_ context.Context, channelID, messageID string) (*domain.ChatMessage, error) {
	if c.fetchFn != nil {
		return c.fetchFn(channelID, messageID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.messages[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return &msg, nil
}

func (c *fakeChat) SendMessage(_ context.Context, channelID string, msg domain.RenderedMessage) (string, error) {
	c.sends.Add(1)
	if c.sendFn != nil {
		return c.sendFn(channelID, msg)
	}
	id := fmt.Sprintf("M%d", c.nextID.Add(1))
	c.put(id, channelID, botID, msg)
	return id, nil
}

func (c *fakeChat) EditMessage(_ context.Context, channelID, messageID string, msg domain.RenderedMessage) error {
	c.edits.Add(1)
	if c.editFn != nil {
		if err := c.editFn(channelID, messageID); err != nil {
			return err
		}
	}
	c.mu.Lock()
	_, ok := c.messages[messageID]
	c.mu.Unlock()
	if !ok {
		return domain.ErrMessageNotFound
	}
	c.put(messageID, channelID, botID, msg)
	return nil
}

func (c *fakeChat) DeleteMessage(_ context.Context, channelID, messageID string) error {
	c.deletes.Add(1)
	if c.deleteFn != nil {
		return c.deleteFn(channelID, messageID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[messageID]; !ok {
		return domain.ErrMessageNotFound
	}
	delete(c.messages, messageID)
	return nil
}

func (c *fakeChat) put(id, channelID, author string, msg domain.RenderedMessage) {
	embed := msg.Embed
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[id] = domain.ChatMessage{ID: id, ChannelID: channelID, AuthorID: author, Content: msg.Content, Embed: &embed}
}

func (c *fakeChat) message(id string) (domain.ChatMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.messages[id]
	return msg, ok
}

// --- Fixtures ---

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func testMetrics() *metrics.NotifyMetrics {
	return metrics.NewNotifyMetrics(prometheus.NewRegistry())
}

func testSubscription(editInPlace bool) domain.Subscription {
	return domain.Subscription{
		ID:          uuid.New(),
		ServiceType: domain.ServiceTwitch,
		AccountID:   "nova",
		GuildID:     "G",
		ChannelID:   "C",
		EditInPlace: editInPlace,
		CreatedAt:   t0.Add(-30 * 24 * time.Hour),
	}
}

func testSession(streamID string, start time.Time) domain.StreamSession {
	return domain.StreamSession{
		ServiceType:  domain.ServiceTwitch,
		AccountID:    "nova",
		AccountName:  "Nova",
		AvatarURL:    "https://cdn.example/nova.png",
		StreamID:     streamID,
		StartTime:    start,
		Title:        "Speedrunning all night",
		ThumbnailURL: "https://cdn.example/thumb.jpg",
		StreamURL:    "https://twitch.tv/nova",
		Game:         domain.Game{ID: "g1", Name: "Celeste"},
	}
}

func testRecord(sub domain.Subscription, streamID string, start time.Time, messageID string) domain.NotificationRecord {
	rec := domain.NotificationRecord{
		ID:          uuid.New(),
		ServiceType: sub.ServiceType,
		AccountID:   sub.AccountID,
		GuildID:     sub.GuildID,
		ChannelID:   sub.ChannelID,
		MessageID:   messageID,
		Outcome:     domain.Sent(),
		CreatedAt:   start,
		UpdatedAt:   start,
	}
	rec.ApplySession(testSession(streamID, start))
	return rec
}

type harness struct {
	clock         *clockwork.FakeClock
	subs          *memSubscriptions
	notifications *memNotifications
	chat          *fakeChat
	mutex         *memMutex
	locker        *Locker
	dispatcher    *Dispatcher
	offline       *OfflineMarker
	reconciler    *StartupReconciler
}

func newHarness(subs []domain.Subscription, records ...domain.NotificationRecord) *harness {
	h := &harness{
		clock:         clockwork.NewFakeClockAt(t0),
		subs:          newMemSubscriptions(subs...),
		notifications: newMemNotifications(records...),
		chat:          newFakeChat(),
		mutex:         newMemMutex(),
	}
	m := testMetrics()
	h.locker = NewLocker(h.mutex, LockConfig{TTL: 30 * time.Second, MaxAttempts: 1, InitialBackoff: time.Millisecond}, clockwork.NewRealClock(), m)
	reaper := NewStaleNotificationReaper(h.notifications, h.chat, h.clock, m)
	h.dispatcher = NewDispatcher(h.subs, h.notifications, h.chat, h.locker, NewCooldownResolver(time.Hour), reaper, h.clock, m)
	h.offline = NewOfflineMarker(h.subs, h.notifications, h.chat, h.locker, nil, h.clock, m)
	h.reconciler = NewStartupReconciler(h.subs, h.notifications, h.chat, h.locker, h.offline,
		ReconcilerConfig{Lookback: 7 * 24 * time.Hour, OfflineAfter: 8 * time.Hour}, h.clock, m)
	return h
}

// seedMessage stores a posted alert for rec as the bot would have rendered it.
func (h *harness) seedMessage(sub domain.Subscription, rec domain.NotificationRecord, author string) {
	s := testSession(rec.StreamID, rec.StreamStartTime)
	s.Title = rec.Title
	s.Game = rec.Game
	h.chat.put(rec.MessageID, sub.ChannelID, author, Render(sub, s))
}
