// Package server implements the authoritative side of the Parlance protocol:
// message dispatch, the permission gate applied to every mutating request,
// and broadcast fan-out to affected connections.
package server

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parlance/internal/config"
	"parlance/internal/permissions"
	"parlance/internal/state"
	"parlance/pkg/protocol"
)

// Peer is the transport-level view of one connection the server talks back
// through. *transport.Conn satisfies it; tests use fakes.
type Peer interface {
	ID() uuid.UUID
	RemoteAddr() string
	Send(env protocol.Envelope) error
	SendAudio(env protocol.Envelope, payload []byte) error
	Close(err error)
}

// PermissionEditor is the optional write side of a permission provider.
type PermissionEditor interface {
	SetPermissions(userID uint32, perms []protocol.PermissionInfo)
	Forget(userID uint32)
}

// Server owns the authoritative managers and handles every inbound message.
// Handlers are safe to invoke from any goroutine; per connection the
// transport delivers sequentially, which preserves send order.
type Server struct {
	log   *zap.Logger
	info  protocol.ServerInfo
	perms permissions.Provider

	users     *state.UserManager
	channels  *state.ChannelTree
	sources   *state.SourceManager
	bans      *state.BanList
	registrar *state.Registrar

	allowGuests bool
	jwtSecret   string
	redirectTo  string

	peerMu sync.RWMutex
	peers  map[uuid.UUID]Peer
}

// New wires a server from settings and a permission provider.
func New(log *zap.Logger, cfg *config.Settings, perms permissions.Provider) *Server {
	bans := state.NewBanList()
	return &Server{
		log: log.With(zap.String("component", "server")),
		info: protocol.ServerInfo{
			Name:             cfg.Server.Name,
			Description:      cfg.Server.Description,
			ProtocolVersion:  protocol.Version,
			DefaultChannelID: protocol.DefaultChannelID,
		},
		perms:     perms,
		users:     state.NewUserManager(log, cfg.Server.Password, bans),
		channels:  state.NewChannelTree(log, cfg.Server.Name),
		sources: state.NewSourceManager(log, state.BitrateBounds{
			Min:     cfg.Audio.MinBitrate,
			Max:     cfg.Audio.MaxBitrate,
			Default: cfg.Audio.DefaultBitrate,
		}),
		bans:        bans,
		registrar:   state.NewRegistrar(state.ParseRegistrationMode(cfg.Server.RegistrationMode)),
		allowGuests: cfg.Server.AllowGuestLogins,
		jwtSecret:   cfg.Auth.JWTSecret,
		redirectTo:  cfg.Server.RedirectTo,
		peers:       make(map[uuid.UUID]Peer),
	}
}

// Users exposes the user manager for the observation surface.
func (s *Server) Users() *state.UserManager { return s.users }

// Channels exposes the channel tree for the observation surface.
func (s *Server) Channels() *state.ChannelTree { return s.channels }

// Sources exposes the source manager for the observation surface.
func (s *Server) Sources() *state.SourceManager { return s.sources }

// Attach registers a transport peer. No protocol state exists until the peer
// sends a version-checked connect message.
func (s *Server) Attach(p Peer) {
	s.peerMu.Lock()
	s.peers[p.ID()] = p
	s.peerMu.Unlock()
}

// HandleDisconnect removes the connection from every authoritative table
// before any further message on it could be processed, then notifies the
// remaining connections.
func (s *Server) HandleDisconnect(connID uuid.UUID) {
	s.peerMu.Lock()
	delete(s.peers, connID)
	s.peerMu.Unlock()

	s.registrar.DropConn(connID)
	user, existed := s.users.Disconnect(connID)
	if !existed || user == nil {
		return
	}

	if removed := s.sources.RemoveByOwner(user.UserID); len(removed) > 0 {
		s.broadcast(protocol.MsgSourcesRemoved, protocol.SourcesRemoved{SourceIDs: removed}, true)
	}
	s.broadcast(protocol.MsgUserDisconnected, protocol.UserDisconnected{UserID: user.UserID}, false)
	if editor, ok := s.perms.(PermissionEditor); ok {
		editor.Forget(user.UserID)
	}

	s.log.Info("user disconnected",
		zap.Uint32("user_id", user.UserID),
		zap.String("nickname", user.Nickname))
}

// HandleMessage dispatches one inbound message. audio is non-nil only for
// client_audio envelopes.
func (s *Server) HandleMessage(ctx context.Context, p Peer, env protocol.Envelope, audio []byte) {
	switch env.Type {
	case protocol.MsgConnect:
		s.handleConnect(p, env)
	case protocol.MsgLogin:
		s.handleLogin(p, env)
	case protocol.MsgJoin:
		s.handleJoin(p, env)
	case protocol.MsgRegister:
		s.handleRegister(p, env)
	case protocol.MsgRegistrationApproval:
		s.handleRegistrationApproval(p, env)
	case protocol.MsgRequestChannelList:
		s.handleRequestChannelList(p, env)
	case protocol.MsgChannelEdit:
		s.handleChannelEdit(p, env)
	case protocol.MsgChannelChange:
		s.handleChannelChange(p, env)
	case protocol.MsgRequestSource:
		s.handleRequestSource(p, env)
	case protocol.MsgRequestSourceList:
		s.handleRequestSourceList(p, env)
	case protocol.MsgClientAudioState:
		s.handleClientAudioState(p, env)
	case protocol.MsgClientAudio:
		s.handleClientAudio(p, env, audio)
	case protocol.MsgRequestMuteUser:
		s.handleMuteUser(p, env)
	case protocol.MsgRequestMuteSource:
		s.handleMuteSource(p, env)
	case protocol.MsgKickUser:
		s.handleKick(p, env)
	case protocol.MsgBanUser:
		s.handleBan(p, env)
	case protocol.MsgRequestBanList:
		s.handleRequestBanList(p, env)
	case protocol.MsgSetComment:
		s.handleSetComment(p, env)
	case protocol.MsgSetStatus:
		s.handleSetStatus(p, env)
	case protocol.MsgRequestPermissions:
		s.handleRequestPermissions(p, env)
	case protocol.MsgSetPermissions:
		s.handleSetPermissions(p, env)
	default:
		s.log.Debug("unknown message type", zap.String("type", string(env.Type)))
	}
}

// reply answers a correlated request.
func (s *Server) reply(p Peer, req protocol.Envelope, t protocol.MessageType, body any) {
	env, err := protocol.NewEnvelope(t, body)
	if err != nil {
		s.log.Error("marshaling reply", zap.Error(err))
		return
	}
	env.Ack = req.Seq
	if err := p.Send(env); err != nil {
		s.log.Debug("reply to closed connection dropped", zap.Error(err))
	}
}

// denied answers a request with the uniform permission failure, always
// carrying the denied message type.
func (s *Server) denied(p Peer, req protocol.Envelope) {
	s.reply(p, req, protocol.MsgPermissionDenied, protocol.PermissionDenied{DeniedType: req.Type})
}

// sendTo pushes an unsolicited message to one connection.
func (s *Server) sendTo(connID uuid.UUID, t protocol.MessageType, body any) {
	s.peerMu.RLock()
	p, ok := s.peers[connID]
	s.peerMu.RUnlock()
	if !ok {
		return
	}
	env, err := protocol.NewEnvelope(t, body)
	if err != nil {
		s.log.Error("marshaling push", zap.Error(err))
		return
	}
	_ = p.Send(env)
}

// broadcast pushes a message to every connection with protocol state, or
// only to joined ones, excluding any listed connection ids.
func (s *Server) broadcast(t protocol.MessageType, body any, joinedOnly bool, except ...uuid.UUID) {
	env, err := protocol.NewEnvelope(t, body)
	if err != nil {
		s.log.Error("marshaling broadcast", zap.Error(err))
		return
	}

	skip := make(map[uuid.UUID]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}

	targets := s.users.ConnIDs(joinedOnly)
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	for _, id := range targets {
		if _, excluded := skip[id]; excluded {
			continue
		}
		if p, ok := s.peers[id]; ok {
			_ = p.Send(env)
		}
	}
}

// session resolves a peer to its protocol session; a miss is the caller's
// cue for a silent drop since the connection may have raced a disconnect.
func (s *Server) session(p Peer) (*state.Session, bool) {
	return s.users.Get(p.ID())
}

// Stats is the observation surface snapshot.
type Stats struct {
	Connections int `json:"connections"`
	JoinedUsers int `json:"joined_users"`
	Channels    int `json:"channels"`
	Sources     int `json:"sources"`
}

// GetStats reports current table sizes.
func (s *Server) GetStats() Stats {
	conns, joined := s.users.Counts()
	return Stats{
		Connections: conns,
		JoinedUsers: joined,
		Channels:    s.channels.Count(),
		Sources:     s.sources.Count(),
	}
}

// Shutdown closes every live connection.
func (s *Server) Shutdown(reason error) {
	s.peerMu.RLock()
	peers := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peerMu.RUnlock()
	for _, p := range peers {
		p.Close(reason)
	}
}
