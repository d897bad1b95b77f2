package client

import (
	"log"

	"parlance/pkg/protocol"
)

// EventHandler defines callbacks for server-initiated events. The mirrors
// are already updated when a callback fires, so handlers can read them.
// Callbacks are invoked sequentially in receive order.
type EventHandler interface {
	OnServerInfo(info protocol.ServerInfo)
	OnUserJoined(user *User)
	OnUserDisconnected(user *User)
	OnUserChangedChannel(change protocol.ChannelChangeInfo, user *User)
	OnUserUpdated(user *User)
	OnUserListReplaced()
	OnChannelListReplaced()
	OnSourceAdded(source *Source)
	OnSourceListReplaced()
	OnSourcesRemoved(sourceIDs []uint32)
	OnAudioState(state protocol.AudioState)
	OnAudio(sourceID uint32, payload []byte)
	OnMuted(msg protocol.Muted)
	OnKicked(msg protocol.UserKicked)
	OnPermissions(perms protocol.Permissions)
	OnPermissionDenied(msg protocol.PermissionDenied)
	OnDisconnected(err error)
}

// DefaultEventHandler provides a basic logging implementation of EventHandler.
type DefaultEventHandler struct{}

func (h *DefaultEventHandler) OnServerInfo(info protocol.ServerInfo) {
	log.Printf("server: %s", info.Name)
}
func (h *DefaultEventHandler) OnUserJoined(user *User) { log.Printf("%s joined", user.Nickname) }
func (h *DefaultEventHandler) OnUserDisconnected(user *User) {
	log.Printf("%s disconnected", user.Nickname)
}
func (h *DefaultEventHandler) OnUserChangedChannel(change protocol.ChannelChangeInfo, user *User) {
	log.Printf("%s moved to channel %d", user.Nickname, change.TargetChannelID)
}
func (h *DefaultEventHandler) OnUserUpdated(user *User)  { log.Printf("%s updated", user.Nickname) }
func (h *DefaultEventHandler) OnUserListReplaced()       { log.Printf("user list replaced") }
func (h *DefaultEventHandler) OnChannelListReplaced()    { log.Printf("channel list replaced") }
func (h *DefaultEventHandler) OnSourceAdded(src *Source) { log.Printf("new source %q", src.Name) }
func (h *DefaultEventHandler) OnSourceListReplaced()     { log.Printf("source list replaced") }
func (h *DefaultEventHandler) OnSourcesRemoved(ids []uint32) {
	log.Printf("%d source(s) removed", len(ids))
}
func (h *DefaultEventHandler) OnAudioState(state protocol.AudioState) {
	log.Printf("source %d talking=%v", state.SourceID, state.Starting)
}
func (h *DefaultEventHandler) OnAudio(sourceID uint32, payload []byte) {}
func (h *DefaultEventHandler) OnMuted(msg protocol.Muted) {
	log.Printf("%s %d muted=%v", msg.Target, msg.TargetID, !msg.Unmuted)
}
func (h *DefaultEventHandler) OnKicked(msg protocol.UserKicked) {
	log.Printf("user %d kicked by %d", msg.UserID, msg.KickerID)
}
func (h *DefaultEventHandler) OnPermissions(perms protocol.Permissions) {
	log.Printf("permissions for %d: %d grant(s)", perms.OwnerID, len(perms.Permissions))
}
func (h *DefaultEventHandler) OnPermissionDenied(msg protocol.PermissionDenied) {
	log.Printf("denied: %s", msg.DeniedType)
}
func (h *DefaultEventHandler) OnDisconnected(err error) { log.Printf("disconnected: %v", err) }
