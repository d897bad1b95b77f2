package protocol

import "time"

// UserInfo describes a joined participant. The server owns the authoritative
// copy; clients hold independently-lifecycled copies patched by updates.
type UserInfo struct {
	UserID    uint32     `json:"user_id"`
	Nickname  string     `json:"nickname"`
	Phonetic  string     `json:"phonetic,omitempty"`
	Username  string     `json:"username,omitempty"` // empty for guests
	ChannelID uint32     `json:"channel_id"`
	Muted     bool       `json:"muted,omitempty"`
	Status    UserStatus `json:"status,omitempty"`
	Comment   string     `json:"comment,omitempty"`
}

// Clone returns a deep copy.
func (u *UserInfo) Clone() *UserInfo {
	c := *u
	return &c
}

// ChannelInfo is a node in the channel tree. ChannelID 0 marks a channel not
// yet created (a create request); ParentID 0 marks a root channel.
type ChannelInfo struct {
	ChannelID   uint32 `json:"channel_id"`
	ParentID    uint32 `json:"parent_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ReadOnly    bool   `json:"read_only,omitempty"`
	UserLimit   int    `json:"user_limit,omitempty"` // 0 = unlimited
}

// Clone returns a deep copy.
func (c *ChannelInfo) Clone() *ChannelInfo {
	d := *c
	return &d
}

// CodecArgs are the audio codec parameters attached to a source. A requested
// bitrate of 0 asks for the server default; the server clamps whatever was
// requested into its configured bounds.
type CodecArgs struct {
	Channels   int `json:"channels"`
	Bitrate    int `json:"bitrate"`
	SampleRate int `json:"sample_rate"`
	FrameSize  int `json:"frame_size"`
	Complexity int `json:"complexity"`
}

// SourceInfo is a named audio stream owned by exactly one user. Names are
// unique per owner, not globally.
type SourceInfo struct {
	SourceID uint32    `json:"source_id"`
	OwnerID  uint32    `json:"owner_id"`
	Name     string    `json:"name"`
	Codec    CodecArgs `json:"codec"`
	Muted    bool      `json:"muted,omitempty"`
}

// Clone returns a deep copy.
func (s *SourceInfo) Clone() *SourceInfo {
	c := *s
	return &c
}

// BanInfo is an exclusion rule. At least one of IPMask and Username is set.
type BanInfo struct {
	IPMask   string        `json:"ip_mask,omitempty"`
	Username string        `json:"username,omitempty"`
	Created  time.Time     `json:"created"`
	Duration time.Duration `json:"duration"` // 0 = permanent
}

// IsExpired reports whether the ban has lapsed. Zero-duration bans never
// expire.
func (b *BanInfo) IsExpired() bool {
	if b.Duration == 0 {
		return false
	}
	return time.Now().After(b.Created.Add(b.Duration))
}

// ChannelChangeInfo carries enough for every observer to apply a move without
// a round-trip. RequestingUserID 0 marks a system-initiated move.
type ChannelChangeInfo struct {
	TargetUserID      uint32 `json:"target_user_id"`
	TargetChannelID   uint32 `json:"target_channel_id"`
	PreviousChannelID uint32 `json:"previous_channel_id"`
	RequestingUserID  uint32 `json:"requesting_user_id"`
}

// PermissionInfo is a single capability grant. ChannelID 0 means global.
type PermissionInfo struct {
	Name      Permission `json:"name"`
	ChannelID uint32     `json:"channel_id,omitempty"`
	Allowed   bool       `json:"allowed"`
}

// ServerInfo is the static server description sent in the join snapshot.
type ServerInfo struct {
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	ProtocolVersion  int    `json:"protocol_version"`
	DefaultChannelID uint32 `json:"default_channel_id"`
}
