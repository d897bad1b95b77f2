package server

import (
	"github.com/google/uuid"

	"parlance/pkg/protocol"
)

// handleRequestSource registers a new audio source for the sender. The
// requester alone sees Succeeded; every other joined connection sees the
// same source announced as NewSource, so nobody double-counts it.
func (s *Server) handleRequestSource(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok {
		return
	}
	if !sess.Joined() {
		s.reply(p, env, protocol.MsgSourceResult, protocol.SourceResult{Result: protocol.SourceFailedNotJoined})
		return
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermRequestSource, 0) {
		s.denied(p, env)
		return
	}
	var msg protocol.RequestSource
	if err := env.DecodeBody(&msg); err != nil {
		return
	}

	src, result := s.sources.Create(sess.User.UserID, msg.Name, msg.Codec)
	if result != protocol.SourceSucceeded {
		s.reply(p, env, protocol.MsgSourceResult, protocol.SourceResult{Result: result})
		return
	}
	s.reply(p, env, protocol.MsgSourceResult, protocol.SourceResult{
		Result: protocol.SourceSucceeded,
		Source: src,
	})
	s.broadcast(protocol.MsgSourceResult, protocol.SourceResult{
		Result: protocol.SourceNewSource,
		Source: src,
	}, true, p.ID())
}

func (s *Server) handleRequestSourceList(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	s.reply(p, env, protocol.MsgSourceList, protocol.SourceList{Sources: s.sources.List()})
}

// handleClientAudioState relays a talk start/stop on one of the sender's
// sources. State changes on sources the sender does not own are dropped, and
// a muted source or muted sender is silenced the same way audio payloads are.
func (s *Server) handleClientAudioState(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	var msg protocol.ClientAudioState
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	src, ok := s.sources.Get(msg.SourceID)
	if !ok || src.OwnerID != sess.User.UserID {
		return
	}
	if src.Muted || sess.User.Muted {
		return
	}
	s.broadcast(protocol.MsgAudioState, protocol.AudioState{
		SourceID: src.SourceID,
		OwnerID:  src.OwnerID,
		Starting: msg.Starting,
	}, true, p.ID())
}

// handleClientAudio relays one audio payload. Malformed targeting, unknown
// or foreign sources, and muted senders all drop the payload without a
// reply; only a missing permission earns an explicit denial.
func (s *Server) handleClientAudio(p Peer, env protocol.Envelope, payload []byte) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	var msg protocol.ClientAudio
	if err := env.DecodeBody(&msg); err != nil {
		return
	}

	src, ok := s.sources.Get(msg.SourceID)
	if !ok || src.OwnerID != sess.User.UserID {
		return
	}
	if src.Muted || sess.User.Muted {
		return
	}

	if !s.perms.Can(sess.User.UserID, protocol.PermSendAudio, 0) {
		s.denied(p, env)
		return
	}
	if len(msg.TargetIDs) > 1 &&
		!s.perms.Can(sess.User.UserID, protocol.PermSendAudioToMultipleTargets, 0) {
		s.denied(p, env)
		return
	}

	recipients := s.audioRecipients(msg.TargetType, msg.TargetIDs, p.ID())
	if len(recipients) == 0 {
		return
	}

	out, err := protocol.NewEnvelope(protocol.MsgServerAudio, protocol.ServerAudio{SourceID: src.SourceID})
	if err != nil {
		return
	}
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	for connID := range recipients {
		if peer, ok := s.peers[connID]; ok {
			_ = peer.SendAudio(out, payload)
		}
	}
}

// audioRecipients resolves audio targets to a deduplicated connection set,
// never including the sender. A user targeted both directly and through a
// channel receives the payload once.
func (s *Server) audioRecipients(targetType protocol.TargetType, targetIDs []uint32, sender uuid.UUID) map[uuid.UUID]struct{} {
	recipients := make(map[uuid.UUID]struct{})
	switch targetType {
	case protocol.TargetChannels:
		for _, channelID := range targetIDs {
			for _, userID := range s.users.UsersInChannel(channelID) {
				if sess, ok := s.users.GetByUserID(userID); ok && sess.ConnID != sender {
					recipients[sess.ConnID] = struct{}{}
				}
			}
		}
	case protocol.TargetUsers:
		for _, userID := range targetIDs {
			if sess, ok := s.users.GetByUserID(userID); ok && sess.Joined() && sess.ConnID != sender {
				recipients[sess.ConnID] = struct{}{}
			}
		}
	}
	return recipients
}

// handleMuteSource toggles a source's muted flag. Re-asserting the current
// value produces no broadcast.
func (s *Server) handleMuteSource(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermMuteSource, 0) {
		s.denied(p, env)
		return
	}
	var msg protocol.RequestMuteSource
	if err := env.DecodeBody(&msg); err != nil {
		return
	}
	changed, ok := s.sources.SetMuted(msg.SourceID, !msg.Unmute)
	if !ok || !changed {
		return
	}
	s.broadcast(protocol.MsgMuted, protocol.Muted{
		Target:   protocol.MutedSource,
		TargetID: msg.SourceID,
		Unmuted:  msg.Unmute,
	}, true)
}
