package moderation

import (
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mediocregopher/radix/v3"
)

// In-memory fakes for the engine's collaborators, letting the sanction paths
// run without a database or a live session.

type fakeDiscord struct {
	mu sync.Mutex

	roles    []*Role
	channels []*Channel
	members  map[int64]*Member
	bans     map[int64]*Ban

	memberRoles map[int64][]int64 // userID -> live role set

	dms    []string
	embeds []*discordgo.MessageEmbed

	kicked []int64

	failAddRole    error
	failRemoveRole error
	failBan        error
	failUnban      error
	failDM         error

	// channelID -> error for SetChannelPermissionOverwrite
	failOverwrite map[int64]error

	overwriteCalls []overwriteCall
	banDeleteDays  int
	createdRoles   []*Role

	externalCalls int
}

type overwriteCall struct {
	ChannelID int64
	RoleID    int64
	Allow     int64
	Deny      int64
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		members:       make(map[int64]*Member),
		bans:          make(map[int64]*Ban),
		memberRoles:   make(map[int64][]int64),
		failOverwrite: make(map[int64]error),
	}
}

func notFoundErr() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: 404}}
}

func (f *fakeDiscord) GetMember(guildID, userID int64) (*Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return nil, notFoundErr()
}

func (f *fakeDiscord) AddRole(guildID, userID, roleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	if f.failAddRole != nil {
		return f.failAddRole
	}
	f.memberRoles[userID] = append(f.memberRoles[userID], roleID)
	return nil
}

func (f *fakeDiscord) RemoveRole(guildID, userID, roleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	if f.failRemoveRole != nil {
		return f.failRemoveRole
	}

	current := f.memberRoles[userID]
	for i, r := range current {
		if r == roleID {
			f.memberRoles[userID] = append(current[:i], current[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeDiscord) CreateRole(guildID int64, name string) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	role := &Role{ID: int64(9000 + len(f.createdRoles)), Name: name}
	f.createdRoles = append(f.createdRoles, role)
	f.roles = append(f.roles, role)
	return role, nil
}

func (f *fakeDiscord) GuildRoles(guildID int64) ([]*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++
	return f.roles, nil
}

func (f *fakeDiscord) GuildChannels(guildID int64) ([]*Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++
	return f.channels, nil
}

func (f *fakeDiscord) SetChannelPermissionOverwrite(channelID, roleID int64, allow, deny int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	if err, ok := f.failOverwrite[channelID]; ok {
		return err
	}

	f.overwriteCalls = append(f.overwriteCalls, overwriteCall{ChannelID: channelID, RoleID: roleID, Allow: allow, Deny: deny})
	return nil
}

func (f *fakeDiscord) BanMember(guildID, userID int64, reason string, deleteDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	if f.failBan != nil {
		return f.failBan
	}

	f.banDeleteDays = deleteDays
	user := User{ID: userID}
	if m, ok := f.members[userID]; ok {
		user = m.User
	}
	f.bans[userID] = &Ban{User: user, Reason: reason}
	return nil
}

func (f *fakeDiscord) UnbanMember(guildID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	if f.failUnban != nil {
		return f.failUnban
	}

	if _, ok := f.bans[userID]; !ok {
		return notFoundErr()
	}
	delete(f.bans, userID)
	return nil
}

func (f *fakeDiscord) KickMember(guildID, userID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	f.kicked = append(f.kicked, userID)
	return nil
}

func (f *fakeDiscord) GetBan(guildID, userID int64) (*Ban, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	if b, ok := f.bans[userID]; ok {
		return b, nil
	}
	return nil, notFoundErr()
}

func (f *fakeDiscord) ListBans(guildID int64) ([]*Ban, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.externalCalls++

	out := make([]*Ban, 0, len(f.bans))
	for _, b := range f.bans {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeDiscord) SendDM(userID int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDM != nil {
		return f.failDM
	}

	f.dms = append(f.dms, message)
	return nil
}

func (f *fakeDiscord) SendEmbed(channelID int64, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.embeds = append(f.embeds, embed)
	return nil
}

func (f *fakeDiscord) hasRole(userID, roleID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.memberRoles[userID] {
		if r == roleID {
			return true
		}
	}
	return false
}

func (f *fakeDiscord) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.externalCalls
}

// fakeRedis records the keys touched by marker commands.
type fakeRedis struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeRedis) Do(a radix.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.keys = append(f.keys, a.Keys()...)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) touchedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

type memCaseStore struct {
	mu     sync.Mutex
	cases  []*Case
	nextID int64
	fail   error
}

func (s *memCaseStore) CreateCase(kind CaseKind, guildID, userID, authorID int64, reason string, duration time.Duration) (*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return nil, s.fail
	}

	s.nextID++
	c := &Case{
		ID:              s.nextID,
		CaseNum:         s.nextID,
		CreatedAt:       time.Now(),
		GuildID:         guildID,
		UserID:          userID,
		AuthorID:        authorID,
		Kind:            kind,
		Reason:          reason,
		DurationSeconds: int64(duration.Seconds()),
	}
	s.cases = append(s.cases, c)
	return c, nil
}

func (s *memCaseStore) GuildCases(guildID int64, limit int) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Case, 0)
	for _, c := range s.cases {
		if c.GuildID == guildID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCaseStore) UserCases(guildID, userID int64) ([]*Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Case, 0)
	for _, c := range s.cases {
		if c.GuildID == guildID && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCaseStore) lastCase() *Case {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cases) == 0 {
		return nil
	}
	return s.cases[len(s.cases)-1]
}

type memMuteStore struct {
	mu    sync.Mutex
	mutes map[GuildUserKey]*MutedUser
}

func newMemMuteStore() *memMuteStore {
	return &memMuteStore{mutes: make(map[GuildUserKey]*MutedUser)}
}

func (s *memMuteStore) GetMute(guildID, userID int64) (*MutedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutes[GuildUserKey{guildID, userID}], nil
}

func (s *memMuteStore) UpsertMute(m *MutedUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutes[GuildUserKey{m.GuildID, m.UserID}] = m
	return nil
}

func (s *memMuteStore) DeleteMute(guildID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.mutes, GuildUserKey{guildID, userID})
	return nil
}

type memConfigStore struct {
	mu      sync.Mutex
	configs map[int64]*GuildConfig
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{configs: make(map[int64]*GuildConfig)}
}

func (s *memConfigStore) GetConfig(guildID int64) (*GuildConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.configs[guildID]; ok {
		cp := *c
		return &cp, nil
	}
	return &GuildConfig{GuildID: guildID, DefaultBanDeleteDays: 1}, nil
}

func (s *memConfigStore) SaveConfig(config *GuildConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[config.GuildID] = config
	return nil
}

type schedEvent struct {
	Name    string
	GuildID int64
	RunAt   time.Time
	Data    interface{}
}

type fakeScheduler struct {
	mu     sync.Mutex
	events []schedEvent
}

func (s *fakeScheduler) ScheduleEvent(evtName string, guildID int64, runAt time.Time, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, schedEvent{Name: evtName, GuildID: guildID, RunAt: runAt, Data: data})
	return nil
}

func (s *fakeScheduler) CancelUserEvents(evtName string, guildID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, evt := range s.events {
		if evt.Name == evtName && evt.GuildID == guildID && dataUserID(evt.Data) == userID {
			continue
		}
		kept = append(kept, evt)
	}
	s.events = kept
	return nil
}

func dataUserID(data interface{}) int64 {
	switch d := data.(type) {
	case *ScheduledUnmuteData:
		return d.UserID
	case *ScheduledUnbanData:
		return d.UserID
	}
	return 0
}

func (s *fakeScheduler) pending(evtName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, evt := range s.events {
		if evt.Name == evtName {
			n++
		}
	}
	return n
}

type fakeStaff struct {
	staff map[int64]bool
	err   error
}

func (s *fakeStaff) IsStaff(guildID, userID int64, kind CaseKind) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.staff[userID], nil
}

type engineFixture struct {
	engine  *Engine
	discord *fakeDiscord
	cases   *memCaseStore
	mutes   *memMuteStore
	configs *memConfigStore
	sched   *fakeScheduler
	staff   *fakeStaff
}

func newTestEngine() *engineFixture {
	f := &engineFixture{
		discord: newFakeDiscord(),
		cases:   &memCaseStore{},
		mutes:   newMemMuteStore(),
		configs: newMemConfigStore(),
		sched:   &fakeScheduler{},
		staff:   &fakeStaff{staff: make(map[int64]bool)},
	}

	f.engine = NewEngine(f.cases, f.mutes, f.configs, f.sched, f.discord, f.staff, &User{ID: 1, Username: "warden"})
	return f
}
