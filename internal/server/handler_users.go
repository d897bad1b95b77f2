package server

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"parlance/internal/auth"
	"parlance/pkg/protocol"
)

// handleConnect runs the version handshake. Incompatible versions are
// rejected with a reason code before any protocol state is created.
func (s *Server) handleConnect(p Peer, env protocol.Envelope) {
	var msg protocol.Connect
	if err := env.DecodeBody(&msg); err != nil {
		s.log.Debug("malformed connect", zap.Error(err))
		return
	}

	if s.redirectTo != "" {
		s.reply(p, env, protocol.MsgRedirect, protocol.Redirect{Host: s.redirectTo})
		p.Close(nil)
		return
	}

	if msg.Version != protocol.Version {
		s.reply(p, env, protocol.MsgConnectionRejected, protocol.ConnectionRejected{
			Reason: protocol.RejectIncompatibleVersion,
		})
		p.Close(nil)
		return
	}

	s.users.Connect(p.ID(), p.RemoteAddr())
	s.reply(p, env, protocol.MsgServerInfo, s.info)
}

// handleLogin resolves an account identity. Logging in is optional and does
// not imply joining.
func (s *Server) handleLogin(p Peer, env protocol.Envelope) {
	if _, ok := s.session(p); !ok {
		return
	}
	var msg protocol.Login
	if err := env.DecodeBody(&msg); err != nil {
		return
	}

	switch {
	case msg.Token != "":
		username, err := auth.VerifyToken(s.jwtSecret, msg.Token)
		if err != nil {
			s.reply(p, env, protocol.MsgLoginResult, protocol.LoginResult{Result: protocol.LoginFailedPassword})
			return
		}
		_ = s.users.SetLoggedIn(p.ID(), username)
		s.reply(p, env, protocol.MsgLoginResult, protocol.LoginResult{
			Result:   protocol.LoginSucceeded,
			Username: username,
		})

	case msg.Username != "":
		if !s.registrar.HasAccount(msg.Username) {
			s.reply(p, env, protocol.MsgLoginResult, protocol.LoginResult{Result: protocol.LoginFailedUsername})
			return
		}
		if !s.registrar.Validate(msg.Username, msg.Password) {
			s.reply(p, env, protocol.MsgLoginResult, protocol.LoginResult{Result: protocol.LoginFailedPassword})
			return
		}
		_ = s.users.SetLoggedIn(p.ID(), msg.Username)
		s.reply(p, env, protocol.MsgLoginResult, protocol.LoginResult{
			Result:   protocol.LoginSucceeded,
			Username: msg.Username,
		})

	default:
		// Anonymous login: a no-op identity, allowed only when guests are.
		if !s.allowGuests {
			s.reply(p, env, protocol.MsgLoginResult, protocol.LoginResult{Result: protocol.LoginFailedGuestsDisabled})
			return
		}
		s.reply(p, env, protocol.MsgLoginResult, protocol.LoginResult{Result: protocol.LoginSucceeded})
	}
}

// handleJoin promotes the connection to joined and ships the full snapshot:
// server info, channel list, user list, source list, and the permission set.
func (s *Server) handleJoin(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok {
		return
	}
	var msg protocol.Join
	if err := env.DecodeBody(&msg); err != nil {
		return
	}

	if !s.allowGuests && !sess.LoggedIn() {
		s.reply(p, env, protocol.MsgJoinResult, protocol.JoinResult{Result: protocol.JoinFailedLoginRequired})
		return
	}

	user, result := s.users.Join(p.ID(), msg.Nickname, msg.Phonetic, msg.ServerPassword, protocol.DefaultChannelID)
	if result != protocol.JoinSucceeded {
		s.reply(p, env, protocol.MsgJoinResult, protocol.JoinResult{Result: result})
		return
	}

	s.reply(p, env, protocol.MsgJoinResult, protocol.JoinResult{Result: result, User: user})
	s.broadcast(protocol.MsgUserJoined, protocol.UserJoined{User: *user}, true, p.ID())

	s.sendTo(p.ID(), protocol.MsgServerInfo, s.info)
	s.sendTo(p.ID(), protocol.MsgChannelList, protocol.ChannelList{
		Channels:         s.channels.List(),
		DefaultChannelID: protocol.DefaultChannelID,
	})
	s.sendTo(p.ID(), protocol.MsgUserList, protocol.UserList{Users: s.users.JoinedUsers()})
	s.sendTo(p.ID(), protocol.MsgSourceList, protocol.SourceList{Sources: s.sources.List()})
	s.sendTo(p.ID(), protocol.MsgPermissions, protocol.Permissions{
		OwnerID:     user.UserID,
		Permissions: s.perms.PermissionsFor(user.UserID),
	})
}

func (s *Server) handleRegister(p Peer, env protocol.Envelope) {
	if _, ok := s.session(p); !ok {
		return
	}
	var msg protocol.Register
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	result := s.registrar.Register(p.ID(), msg.Username, msg.Password)
	s.reply(p, env, protocol.MsgRegisterResult, protocol.RegisterResult{Result: result})
}

// handleRegistrationApproval completes a parked registration. Approvals for
// unknown users or usernames are dropped without a reply, by design: the
// target may already be gone and there is no one useful to answer.
func (s *Server) handleRegistrationApproval(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermSetPermissions, 0) {
		s.denied(p, env)
		return
	}
	var msg protocol.RegistrationApproval
	if err := env.DecodeBody(&msg); err != nil {
		return
	}

	if msg.UserID != 0 {
		target, ok := s.users.GetByUserID(msg.UserID)
		if !ok {
			return
		}
		if connID, ok := s.registrar.ApproveConn(target.ConnID); ok {
			s.sendTo(connID, protocol.MsgRegisterResult, protocol.RegisterResult{Result: protocol.RegisterSucceeded})
		}
		return
	}
	if msg.Username != "" {
		if connID, ok := s.registrar.ApproveUsername(msg.Username); ok {
			s.sendTo(connID, protocol.MsgRegisterResult, protocol.RegisterResult{Result: protocol.RegisterSucceeded})
		}
	}
}

// handleKick evicts a user from a channel or the server. The channel form is
// gated on the permission scoped to the target's current channel; the server
// form on the global kick permission. Neither implies the other.
func (s *Server) handleKick(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	var msg protocol.KickUser
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	target, ok := s.users.GetByUserID(msg.UserID)
	if !ok || target.User == nil {
		return
	}

	kicker := sess.User.UserID
	if msg.FromServer {
		if !s.perms.Can(kicker, protocol.PermKickUserFromServer, 0) {
			s.denied(p, env)
			return
		}
		s.broadcast(protocol.MsgUserKicked, protocol.UserKicked{
			UserID:     msg.UserID,
			KickerID:   kicker,
			FromServer: true,
		}, false)
		s.closePeer(target.ConnID)
		return
	}

	prevChannel := target.User.ChannelID
	if !s.perms.Can(kicker, protocol.PermKickUserFromChannel, prevChannel) {
		s.denied(p, env)
		return
	}
	if prevChannel == protocol.DefaultChannelID {
		return
	}
	prev, err := s.users.SetChannel(msg.UserID, protocol.DefaultChannelID)
	if err != nil {
		return
	}
	s.sendTo(target.ConnID, protocol.MsgUserKicked, protocol.UserKicked{
		UserID:   msg.UserID,
		KickerID: kicker,
	})
	s.broadcast(protocol.MsgUserChangedChannel, protocol.UserChangedChannel{
		Change: protocol.ChannelChangeInfo{
			TargetUserID:      msg.UserID,
			TargetChannelID:   protocol.DefaultChannelID,
			PreviousChannelID: prev,
			RequestingUserID:  kicker,
		},
	}, false)
}

func (s *Server) closePeer(connID uuid.UUID) {
	s.peerMu.RLock()
	p, ok := s.peers[connID]
	s.peerMu.RUnlock()
	if ok {
		p.Close(nil)
	}
}

func (s *Server) handleBan(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermBanUser, 0) {
		s.denied(p, env)
		return
	}
	var msg protocol.BanUser
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	if msg.Remove {
		s.bans.Remove(msg.Ban.IPMask, msg.Ban.Username)
		return
	}
	if err := s.bans.Add(msg.Ban); err != nil {
		s.log.Debug("rejected ban", zap.Error(err))
	}
}

func (s *Server) handleRequestBanList(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermRequestBanList, 0) {
		s.denied(p, env)
		return
	}
	s.reply(p, env, protocol.MsgBanList, protocol.BanList{Bans: s.bans.List()})
}

// handleMuteUser toggles another user's muted flag. Re-asserting the current
// value produces no broadcast.
func (s *Server) handleMuteUser(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermMuteUser, 0) {
		s.denied(p, env)
		return
	}
	var msg protocol.RequestMuteUser
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	changed, err := s.users.SetMuted(msg.UserID, !msg.Unmute)
	if err != nil || !changed {
		return
	}
	s.broadcast(protocol.MsgMuted, protocol.Muted{
		Target:   protocol.MutedUser,
		TargetID: msg.UserID,
		Unmuted:  msg.Unmute,
	}, true)
}

// handleSetComment updates the sender's own comment; one broadcast per
// actual change.
func (s *Server) handleSetComment(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	var msg protocol.SetComment
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	changed, err := s.users.SetComment(sess.User.UserID, msg.Comment)
	if err != nil || !changed {
		return
	}
	if user, ok := s.users.UserSnapshot(sess.User.UserID); ok {
		s.broadcast(protocol.MsgUserUpdated, protocol.UserUpdated{User: *user}, true)
	}
}

// handleSetStatus updates the sender's own status bitmask; one broadcast per
// actual change.
func (s *Server) handleSetStatus(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	var msg protocol.SetStatus
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	changed, err := s.users.SetStatus(sess.User.UserID, msg.Status)
	if err != nil || !changed {
		return
	}
	if user, ok := s.users.UserSnapshot(sess.User.UserID); ok {
		s.broadcast(protocol.MsgUserUpdated, protocol.UserUpdated{User: *user}, true)
	}
}

func (s *Server) handleRequestPermissions(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	s.reply(p, env, protocol.MsgPermissions, protocol.Permissions{
		OwnerID:     sess.User.UserID,
		Permissions: s.perms.PermissionsFor(sess.User.UserID),
	})
}

// handleSetPermissions replaces a user's grant set and pushes the new set to
// them. Dropped silently when the provider is read-only.
func (s *Server) handleSetPermissions(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermSetPermissions, 0) {
		s.denied(p, env)
		return
	}
	editor, ok := s.perms.(PermissionEditor)
	if !ok {
		return
	}
	var msg protocol.SetPermissions
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	editor.SetPermissions(msg.UserID, msg.Permissions)
	if target, ok := s.users.GetByUserID(msg.UserID); ok {
		s.sendTo(target.ConnID, protocol.MsgPermissions, protocol.Permissions{
			OwnerID:     msg.UserID,
			Permissions: s.perms.PermissionsFor(msg.UserID),
		})
	}
}
