// Package state holds the server's authoritative tables: connection/user
// lifecycle, the channel tree, audio sources, and bans. Each manager
// serializes mutation behind one coarse lock; reads hand out snapshot copies.
package state

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parlance/pkg/protocol"
)

// SessionState tracks a connection through its lifecycle. Disconnected is
// terminal; a reconnect is a brand new session.
type SessionState int

const (
	StateUnknown SessionState = iota
	StateConnected
	StateLoggedIn
	StateJoined
	StateDisconnected
)

// Session is the server-side record of one transport connection.
type Session struct {
	ConnID  uuid.UUID
	Address string
	State   SessionState
	// Username is set once logged in; empty for guests.
	Username string
	// User is non-nil once the session has joined.
	User *protocol.UserInfo
}

// LoggedIn reports whether the session completed an account login. Joined
// sessions that logged in first keep reporting true.
func (s *Session) LoggedIn() bool {
	return s.Username != ""
}

// Joined reports whether the session owns a live user record.
func (s *Session) Joined() bool {
	return s.State == StateJoined && s.User != nil
}

// UserManager is the authoritative table of connection-to-user bindings and
// their connect/login/join lifecycle.
type UserManager struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]*Session
	byUserID   map[uint32]*Session
	nextUserID uint32

	serverPassword string
	bans           *BanList
	log            *zap.Logger
}

// NewUserManager builds an empty table. serverPassword gates joins for users
// who have not logged in; empty disables the check.
func NewUserManager(log *zap.Logger, serverPassword string, bans *BanList) *UserManager {
	return &UserManager{
		sessions:       make(map[uuid.UUID]*Session),
		byUserID:       make(map[uint32]*Session),
		serverPassword: serverPassword,
		bans:           bans,
		log:            log.With(zap.String("component", "user_manager")),
	}
}

// Connect records a version-checked connection. The version check itself
// happens before any state is created, so Connect only ever sees accepted
// connections.
func (m *UserManager) Connect(connID uuid.UUID, addr string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{ConnID: connID, Address: addr, State: StateConnected}
	m.sessions[connID] = s
	m.log.Debug("connection registered", zap.String("conn_id", connID.String()))
	return s
}

// Get returns the session for a connection, if any.
func (m *UserManager) Get(connID uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// GetByUserID returns the session owning a joined user id.
func (m *UserManager) GetByUserID(userID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byUserID[userID]
	return s, ok
}

// SetLoggedIn marks an account login on a connected session.
func (m *UserManager) SetLoggedIn(connID uuid.UUID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	s.Username = username
	if s.State == StateConnected {
		s.State = StateLoggedIn
	}
	return nil
}

// Join promotes a connected session to joined. On success the returned
// UserInfo has a fresh user id and sits in defaultChannel.
func (m *UserManager) Join(connID uuid.UUID, nickname, phonetic, password string, defaultChannel uint32) (*protocol.UserInfo, protocol.JoinResultCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok || s.State == StateDisconnected {
		return nil, protocol.JoinFailedNotConnected
	}

	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, protocol.JoinFailedInvalidNickname
	}
	if m.bans != nil && m.bans.IsBanned(s.Address, s.Username) {
		return nil, protocol.JoinFailedBanned
	}
	// Logged-in users bypass the server password.
	if m.serverPassword != "" && !s.LoggedIn() && password != m.serverPassword {
		return nil, protocol.JoinFailedServerPassword
	}
	for _, other := range m.sessions {
		if other != s && other.Joined() && strings.EqualFold(other.User.Nickname, nickname) {
			return nil, protocol.JoinFailedNicknameInUse
		}
	}

	m.nextUserID++
	user := &protocol.UserInfo{
		UserID:    m.nextUserID,
		Nickname:  nickname,
		Phonetic:  phonetic,
		Username:  s.Username,
		ChannelID: defaultChannel,
	}
	s.User = user
	s.State = StateJoined
	m.byUserID[user.UserID] = s

	m.log.Info("user joined",
		zap.Uint32("user_id", user.UserID),
		zap.String("nickname", nickname))
	return user.Clone(), protocol.JoinSucceeded
}

// Disconnect removes a connection from every table. The returned user is
// non-nil when the session had joined. Terminal: the session cannot be
// reused afterwards.
func (m *UserManager) Disconnect(connID uuid.UUID) (*protocol.UserInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if !ok {
		return nil, false
	}
	delete(m.sessions, connID)
	var user *protocol.UserInfo
	if s.User != nil {
		delete(m.byUserID, s.User.UserID)
		user = s.User.Clone()
	}
	s.State = StateDisconnected
	m.log.Debug("connection removed", zap.String("conn_id", connID.String()))
	return user, true
}

// SetChannel moves a joined user to a channel, returning the previous one.
func (m *UserManager) SetChannel(userID, channelID uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUserID[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	prev := s.User.ChannelID
	s.User.ChannelID = channelID
	return prev, nil
}

// SetMuted flips the user's muted flag. It reports whether anything changed,
// so duplicate toggles yield exactly one observable update.
func (m *UserManager) SetMuted(userID uint32, muted bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUserID[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if s.User.Muted == muted {
		return false, nil
	}
	s.User.Muted = muted
	return true, nil
}

// SetComment updates the user's free-text comment; false when unchanged.
func (m *UserManager) SetComment(userID uint32, comment string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUserID[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if s.User.Comment == comment {
		return false, nil
	}
	s.User.Comment = comment
	return true, nil
}

// SetStatus updates the user's status bitmask; false when unchanged.
func (m *UserManager) SetStatus(userID uint32, status protocol.UserStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUserID[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if s.User.Status == status {
		return false, nil
	}
	s.User.Status = status
	return true, nil
}

// UserSnapshot returns a copy of a joined user's record.
func (m *UserManager) UserSnapshot(userID uint32) (*protocol.UserInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.byUserID[userID]
	if !ok {
		return nil, false
	}
	return s.User.Clone(), true
}

// JoinedUsers returns copies of every joined user, sorted by user id for
// consistent ordering.
func (m *UserManager) JoinedUsers() []protocol.UserInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]protocol.UserInfo, 0, len(m.byUserID))
	for _, s := range m.byUserID {
		users = append(users, *s.User)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserID < users[j].UserID
	})
	return users
}

// UsersInChannel returns the user ids currently sitting in a channel.
func (m *UserManager) UsersInChannel(channelID uint32) []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uint32
	for _, s := range m.byUserID {
		if s.User.ChannelID == channelID {
			ids = append(ids, s.User.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ConnIDs returns the ids of every live connection, or only joined ones.
func (m *UserManager) ConnIDs(joinedOnly bool) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id, s := range m.sessions {
		if joinedOnly && !s.Joined() {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Counts reports (connections, joined users) for the stats surface.
func (m *UserManager) Counts() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), len(m.byUserID)
}
