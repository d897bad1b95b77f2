package protocol

import "encoding/json"

// Envelope is the frame every control message travels in. Seq is set by a
// sender expecting a reply; the reply echoes it in Ack. Audio payload bytes
// ride as a separate binary frame immediately after a client_audio or
// server_audio envelope.
type Envelope struct {
	Type MessageType     `json:"type"`
	Seq  uint32          `json:"seq,omitempty"`
	Ack  uint32          `json:"ack,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewEnvelope marshals body into an envelope of the given type. A nil body
// produces an empty-bodied envelope.
func NewEnvelope(t MessageType, body any) (Envelope, error) {
	env := Envelope{Type: t}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return env, err
		}
		env.Body = raw
	}
	return env, nil
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalFrom decodes a wire frame into the envelope.
func (e *Envelope) UnmarshalFrom(data []byte) error {
	return json.Unmarshal(data, e)
}

// DecodeBody unmarshals the envelope body into v.
func (e *Envelope) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return nil
	}
	return json.Unmarshal(e.Body, v)
}

type Connect struct {
	Version    int    `json:"version"`
	ClientName string `json:"client_name,omitempty"`
}

type ConnectionRejected struct {
	Reason RejectionReason `json:"reason"`
}

type Redirect struct {
	Host string `json:"host"`
}

type Login struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"` // JWT bearer, alternative to password
}

type LoginResult struct {
	Result   LoginResultCode `json:"result"`
	Username string          `json:"username,omitempty"`
}

type Join struct {
	Nickname       string `json:"nickname"`
	Phonetic       string `json:"phonetic,omitempty"`
	ServerPassword string `json:"server_password,omitempty"`
}

type JoinResult struct {
	Result JoinResultCode `json:"result"`
	User   *UserInfo      `json:"user,omitempty"`
}

type Register struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

type RegisterResult struct {
	Result RegisterResultCode `json:"result"`
}

// RegistrationApproval approves a pending pre-approved registration by user
// id or username. Approvals naming unknown targets are dropped without reply.
type RegistrationApproval struct {
	UserID   uint32 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

type ChannelList struct {
	Channels         []ChannelInfo `json:"channels"`
	DefaultChannelID uint32        `json:"default_channel_id"`
}

// ChannelEdit creates (ChannelID 0), updates, or deletes a channel.
type ChannelEdit struct {
	Channel ChannelInfo `json:"channel"`
	Delete  bool        `json:"delete,omitempty"`
}

type ChannelEditResult struct {
	Result    ChannelEditResultCode `json:"result"`
	ChannelID uint32                `json:"channel_id,omitempty"`
}

// ChannelChange asks the server to move a user into a channel.
type ChannelChange struct {
	TargetUserID    uint32 `json:"target_user_id"`
	TargetChannelID uint32 `json:"target_channel_id"`
}

type ChannelChangeResult struct {
	Result ChannelChangeResultCode `json:"result"`
	Change *ChannelChangeInfo      `json:"change,omitempty"`
}

type UserChangedChannel struct {
	Change ChannelChangeInfo `json:"change"`
}

type RequestSource struct {
	Name  string    `json:"name"`
	Codec CodecArgs `json:"codec"`
}

type SourceResult struct {
	Result SourceResultCode `json:"result"`
	Source *SourceInfo      `json:"source,omitempty"`
}

type SourceList struct {
	Sources []SourceInfo `json:"sources"`
}

type SourcesRemoved struct {
	SourceIDs []uint32 `json:"source_ids"`
}

// ClientAudioState starts or stops talking on one of the sender's sources.
type ClientAudioState struct {
	SourceID uint32 `json:"source_id"`
	Starting bool   `json:"starting"`
}

// AudioState is the server's broadcast form of a state change.
type AudioState struct {
	SourceID uint32 `json:"source_id"`
	OwnerID  uint32 `json:"owner_id"`
	Starting bool   `json:"starting"`
}

// TargetType selects how audio target ids are interpreted.
type TargetType string

const (
	TargetChannels TargetType = "channels"
	TargetUsers    TargetType = "users"
)

// ClientAudio announces an audio payload (the following binary frame) from
// one of the sender's sources, aimed at one or more channels or users.
type ClientAudio struct {
	SourceID   uint32     `json:"source_id"`
	TargetType TargetType `json:"target_type"`
	TargetIDs  []uint32   `json:"target_ids"`
}

// ServerAudio announces a relayed audio payload (the following binary frame).
type ServerAudio struct {
	SourceID uint32 `json:"source_id"`
}

type RequestMuteUser struct {
	UserID uint32 `json:"user_id"`
	Unmute bool   `json:"unmute,omitempty"`
}

type RequestMuteSource struct {
	SourceID uint32 `json:"source_id"`
	Unmute   bool   `json:"unmute,omitempty"`
}

// MuteTarget distinguishes what a Muted broadcast refers to.
type MuteTarget string

const (
	MutedUser   MuteTarget = "user"
	MutedSource MuteTarget = "source"
)

type Muted struct {
	Target   MuteTarget `json:"target"`
	TargetID uint32     `json:"target_id"`
	Unmuted  bool       `json:"unmuted,omitempty"`
}

type KickUser struct {
	UserID     uint32 `json:"user_id"`
	FromServer bool   `json:"from_server,omitempty"`
}

// UserKicked notifies the kicked user (and observers) of an eviction.
type UserKicked struct {
	UserID     uint32 `json:"user_id"`
	KickerID   uint32 `json:"kicker_id"`
	FromServer bool   `json:"from_server,omitempty"`
}

type BanUser struct {
	Ban    BanInfo `json:"ban"`
	Remove bool    `json:"remove,omitempty"`
}

type BanList struct {
	Bans []BanInfo `json:"bans"`
}

type SetComment struct {
	Comment string `json:"comment"`
}

type SetStatus struct {
	Status UserStatus `json:"status"`
}

type UserUpdated struct {
	User UserInfo `json:"user"`
}

type Permissions struct {
	OwnerID     uint32           `json:"owner_id"`
	Permissions []PermissionInfo `json:"permissions"`
}

type SetPermissions struct {
	UserID      uint32           `json:"user_id"`
	Permissions []PermissionInfo `json:"permissions"`
}

// PermissionDenied always carries the message type that was refused, never a
// generic error.
type PermissionDenied struct {
	DeniedType MessageType `json:"denied_type"`
}

type UserJoined struct {
	User UserInfo `json:"user"`
}

type UserDisconnected struct {
	UserID uint32 `json:"user_id"`
}

type UserList struct {
	Users []UserInfo `json:"users"`
}
