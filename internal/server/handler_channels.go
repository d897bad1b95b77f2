package server

import (
	"parlance/pkg/protocol"
)

// handleRequestChannelList answers any connected session, joined or not, so
// a client can browse channels before picking a nickname. Pre-join requests
// are evaluated as user 0, which carries only the default grants.
func (s *Server) handleRequestChannelList(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok {
		return
	}
	var userID uint32
	if sess.Joined() {
		userID = sess.User.UserID
	}
	if !s.perms.Can(userID, protocol.PermRequestChannelList, 0) {
		s.denied(p, env)
		return
	}
	s.reply(p, env, protocol.MsgChannelList, protocol.ChannelList{
		Channels:         s.channels.List(),
		DefaultChannelID: protocol.DefaultChannelID,
	})
}

// handleChannelEdit creates (channel id 0), updates, or deletes a channel.
// Deleting first relocates every occupant to the default channel, one
// UserChangedChannel per occupant with no requesting user, then pushes the
// rebuilt channel list to everyone, and only then answers the requester.
func (s *Server) handleChannelEdit(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	var msg protocol.ChannelEdit
	if err := env.DecodeBody(&msg); err != nil {
		return
	}

	// Creation is gated on the parent; update and delete on the channel
	// itself.
	gate := msg.Channel.ChannelID
	if gate == 0 {
		gate = msg.Channel.ParentID
	}
	if !s.perms.Can(sess.User.UserID, protocol.PermEditChannel, gate) &&
		!s.perms.Can(sess.User.UserID, protocol.PermEditChannel, 0) {
		s.denied(p, env)
		return
	}

	switch {
	case msg.Delete:
		s.deleteChannel(p, env, msg.Channel.ChannelID)

	case msg.Channel.ChannelID == 0:
		id, result := s.channels.Create(msg.Channel)
		s.reply(p, env, protocol.MsgChannelEditResult, protocol.ChannelEditResult{
			Result:    result,
			ChannelID: id,
		})
		if result == protocol.ChannelEditSucceeded {
			s.broadcastChannelList()
		}

	default:
		result := s.channels.Update(msg.Channel)
		s.reply(p, env, protocol.MsgChannelEditResult, protocol.ChannelEditResult{
			Result:    result,
			ChannelID: msg.Channel.ChannelID,
		})
		if result == protocol.ChannelEditSucceeded {
			s.broadcastChannelList()
		}
	}
}

func (s *Server) deleteChannel(p Peer, env protocol.Envelope, channelID uint32) {
	occupants := s.users.UsersInChannel(channelID)

	result := s.channels.Delete(channelID)
	if result != protocol.ChannelEditSucceeded {
		s.reply(p, env, protocol.MsgChannelEditResult, protocol.ChannelEditResult{
			Result:    result,
			ChannelID: channelID,
		})
		return
	}

	for _, userID := range occupants {
		prev, err := s.users.SetChannel(userID, protocol.DefaultChannelID)
		if err != nil {
			continue
		}
		s.broadcast(protocol.MsgUserChangedChannel, protocol.UserChangedChannel{
			Change: protocol.ChannelChangeInfo{
				TargetUserID:      userID,
				TargetChannelID:   protocol.DefaultChannelID,
				PreviousChannelID: prev,
			},
		}, false)
	}

	s.broadcast(protocol.MsgChannelList, protocol.ChannelList{
		Channels:         s.channels.List(),
		DefaultChannelID: protocol.DefaultChannelID,
	}, false)

	s.reply(p, env, protocol.MsgChannelEditResult, protocol.ChannelEditResult{
		Result:    protocol.ChannelEditSucceeded,
		ChannelID: channelID,
	})
}

// broadcastChannelList pushes the current tree to every connection,
// requester included; the push is idempotent against a mirror that already
// applied the correlated result.
func (s *Server) broadcastChannelList() {
	s.broadcast(protocol.MsgChannelList, protocol.ChannelList{
		Channels:         s.channels.List(),
		DefaultChannelID: protocol.DefaultChannelID,
	}, false)
}

// handleChannelChange moves a user between channels. Unknown channels and
// same-channel moves fall out silently. A full channel answers only the
// requester; nothing is broadcast.
func (s *Server) handleChannelChange(p Peer, env protocol.Envelope) {
	sess, ok := s.session(p)
	if !ok || !sess.Joined() {
		return
	}
	var msg protocol.ChannelChange
	if err := env.DecodeBody(&msg); err != nil {
		return
	}

	targetUserID := msg.TargetUserID
	if targetUserID == 0 {
		targetUserID = sess.User.UserID
	}
	target, ok := s.users.GetByUserID(targetUserID)
	if !ok || target.User == nil {
		return
	}
	if !s.channels.Exists(msg.TargetChannelID) {
		return
	}
	if target.User.ChannelID == msg.TargetChannelID {
		return
	}

	if !s.perms.Can(sess.User.UserID, protocol.PermMoveUser, msg.TargetChannelID) &&
		!s.perms.Can(sess.User.UserID, protocol.PermMoveUser, 0) {
		s.denied(p, env)
		return
	}

	if ch, ok := s.channels.Get(msg.TargetChannelID); ok && ch.UserLimit > 0 {
		if len(s.users.UsersInChannel(msg.TargetChannelID)) >= ch.UserLimit {
			s.reply(p, env, protocol.MsgChannelChangeResult, protocol.ChannelChangeResult{
				Result: protocol.ChannelChangeFailedFull,
			})
			return
		}
	}

	prev, err := s.users.SetChannel(targetUserID, msg.TargetChannelID)
	if err != nil {
		return
	}

	change := protocol.ChannelChangeInfo{
		TargetUserID:      targetUserID,
		TargetChannelID:   msg.TargetChannelID,
		PreviousChannelID: prev,
		RequestingUserID:  sess.User.UserID,
	}
	s.reply(p, env, protocol.MsgChannelChangeResult, protocol.ChannelChangeResult{
		Result: protocol.ChannelChangeSucceeded,
		Change: &change,
	})
	s.broadcast(protocol.MsgUserChangedChannel, protocol.UserChangedChannel{Change: change}, false)
}
