package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ggrd-rewards-bot/internal/model"
	"ggrd-rewards-bot/internal/repository"
)

// memStore is an in-memory MemberStore sharing the merge semantics of
// the Postgres store through model.Apply. Members are kept in
// first-contact order, matching the repository's Find ordering.
type memStore struct {
	mu      sync.Mutex
	order   []int64
	members map[int64]*model.Member
	now     func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		members: make(map[int64]*model.Member),
		now:     time.Now,
	}
}

func (s *memStore) add(m *model.Member) *model.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.TelegramID]; !ok {
		s.order = append(s.order, m.TelegramID)
	}
	if m.Conversation == "" {
		m.Conversation = model.ConversationIdle
	}
	s.members[m.TelegramID] = m
	return m
}

func (s *memStore) GetByID(_ context.Context, telegramID int64) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[telegramID]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetOrCreate(_ context.Context, telegramID int64, username, firstName, lastName string) (*model.Member, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[telegramID]; ok {
		cp := *m
		return &cp, false, nil
	}
	m := &model.Member{
		TelegramID:   telegramID,
		Username:     username,
		FirstName:    firstName,
		LastName:     lastName,
		Conversation: model.ConversationIdle,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	s.order = append(s.order, telegramID)
	s.members[telegramID] = m
	cp := *m
	return &cp, true, nil
}

func (s *memStore) Update(_ context.Context, telegramID int64, u model.MemberUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[telegramID]
	if !ok {
		return repository.ErrMemberNotFound
	}
	m.Apply(u, s.now())
	return nil
}

func (s *memStore) Put(_ context.Context, m *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.TelegramID]; !ok {
		s.order = append(s.order, m.TelegramID)
	}
	cp := *m
	s.members[m.TelegramID] = &cp
	return nil
}

func (s *memStore) Find(_ context.Context, f model.MemberFilter) ([]*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Member
	for _, id := range s.order {
		m := s.members[id]
		if f.Matches(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Count(_ context.Context, f model.MemberFilter) (int, error) {
	members, _ := s.Find(context.Background(), f)
	return len(members), nil
}

func (s *memStore) SumReferralEarned(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, m := range s.members {
		sum += m.ReferralEarned
	}
	return sum, nil
}

// snapStore is an in-memory SnapshotStore with the same run-once
// semantics as the Postgres store.
type snapStore struct {
	mu    sync.Mutex
	snaps map[model.SnapshotType]*model.Snapshot
	daily map[int]*model.DailySnapshot
}

func newSnapStore() *snapStore {
	return &snapStore{
		snaps: make(map[model.SnapshotType]*model.Snapshot),
		daily: make(map[int]*model.DailySnapshot),
	}
}

func (s *snapStore) Get(_ context.Context, typ model.SnapshotType) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[typ]
	if !ok {
		return nil, repository.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *snapStore) InsertOnce(_ context.Context, typ model.SnapshotType, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[typ]; ok {
		return repository.ErrSnapshotExists
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.snaps[typ] = &model.Snapshot{Type: typ, Payload: data, CreatedAt: time.Now()}
	return nil
}

func (s *snapStore) GetDaily(_ context.Context, day int) (*model.DailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.daily[day]
	if !ok {
		return nil, repository.ErrSnapshotNotFound
	}
	return ds, nil
}

func (s *snapStore) ListDaily(_ context.Context) ([]*model.DailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.DailySnapshot, 0, len(s.daily))
	for day := 1; len(out) < len(s.daily); day++ {
		if ds, ok := s.daily[day]; ok {
			out = append(out, ds)
		}
	}
	return out, nil
}

func (s *snapStore) CountDaily(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.daily), nil
}

func (s *snapStore) InsertDailyOnce(_ context.Context, ds *model.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.daily[ds.Day]; ok {
		return repository.ErrSnapshotExists
	}
	s.daily[ds.Day] = ds
	return nil
}

// memSlots is an in-memory SlotReserver with real ceiling semantics: a
// reservation succeeds while the counter is still below the limit.
type memSlots struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemSlots() *memSlots {
	return &memSlots{values: make(map[string]int64)}
}

func (s *memSlots) Reserve(_ context.Context, name string, delta, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[name] >= limit {
		return 0, false, nil
	}
	s.values[name] += delta
	return s.values[name], true, nil
}

// stubOracle serves balances from a fixed map; unknown wallets return
// the configured error or zero.
type stubOracle struct {
	balances map[string]float64
	err      error
}

func (o *stubOracle) TokenBalance(_ context.Context, wallet string) (float64, error) {
	if o.err != nil {
		return 0, o.err
	}
	return o.balances[wallet], nil
}

// recordingNotifier captures notifications keyed by member.
type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[int64][]string)}
}

func (n *recordingNotifier) Notify(memberID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[memberID] = append(n.sent[memberID], text)
}

func (n *recordingNotifier) count(memberID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[memberID])
}
