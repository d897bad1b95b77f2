// Package protocol defines the control-plane contract shared by the Parlance
// server and clients: message type codes, typed result codes, permission
// names, and the payload structs that ride inside the wire envelope.
package protocol

// Version is the protocol revision spoken by this tree. A connect message
// carrying any other value is rejected before any session state is created.
const Version = 8

// DefaultChannelID is the fixed id of the lobby channel. It always exists
// and can never be deleted.
const DefaultChannelID = 1

// MessageType identifies a control message on the wire.
type MessageType string

const (
	MsgConnect            MessageType = "connect"
	MsgConnectionRejected MessageType = "connection_rejected"
	MsgRedirect           MessageType = "redirect"

	MsgLogin       MessageType = "login"
	MsgLoginResult MessageType = "login_result"

	MsgJoin       MessageType = "join"
	MsgJoinResult MessageType = "join_result"

	MsgRegister             MessageType = "register"
	MsgRegisterResult       MessageType = "register_result"
	MsgRegistrationApproval MessageType = "registration_approval"

	MsgRequestChannelList MessageType = "request_channel_list"
	MsgChannelList        MessageType = "channel_list"
	MsgChannelEdit        MessageType = "channel_edit"
	MsgChannelEditResult  MessageType = "channel_edit_result"

	MsgChannelChange       MessageType = "channel_change"
	MsgChannelChangeResult MessageType = "channel_change_result"
	MsgUserChangedChannel  MessageType = "user_changed_channel"

	MsgRequestSource     MessageType = "request_source"
	MsgSourceResult      MessageType = "source_result"
	MsgRequestSourceList MessageType = "request_source_list"
	MsgSourceList        MessageType = "source_list"
	MsgSourcesRemoved    MessageType = "sources_removed"

	MsgClientAudioState MessageType = "client_audio_state"
	MsgAudioState       MessageType = "audio_state"
	MsgClientAudio      MessageType = "client_audio"
	MsgServerAudio      MessageType = "server_audio"

	MsgRequestMuteUser   MessageType = "request_mute_user"
	MsgRequestMuteSource MessageType = "request_mute_source"
	MsgMuted             MessageType = "muted"

	MsgKickUser   MessageType = "kick_user"
	MsgUserKicked MessageType = "user_kicked"

	MsgBanUser        MessageType = "ban_user"
	MsgRequestBanList MessageType = "request_ban_list"
	MsgBanList        MessageType = "ban_list"

	MsgSetComment  MessageType = "set_comment"
	MsgSetStatus   MessageType = "set_status"
	MsgUserUpdated MessageType = "user_updated"

	MsgRequestPermissions MessageType = "request_permissions"
	MsgPermissions        MessageType = "permissions"
	MsgSetPermissions     MessageType = "set_permissions"
	MsgPermissionDenied   MessageType = "permission_denied"

	MsgUserJoined       MessageType = "user_joined"
	MsgUserDisconnected MessageType = "user_disconnected"
	MsgUserList         MessageType = "user_list"

	MsgServerInfo MessageType = "server_info"
)

// RejectionReason explains why a connect attempt was refused.
type RejectionReason string

const (
	RejectIncompatibleVersion RejectionReason = "incompatible_version"
	RejectBanned              RejectionReason = "banned"
	RejectRedirected          RejectionReason = "redirected"
)

// LoginResultCode is the typed result of a login request.
type LoginResultCode string

const (
	LoginSucceeded            LoginResultCode = "succeeded"
	LoginFailedUsername       LoginResultCode = "failed_invalid_username"
	LoginFailedPassword       LoginResultCode = "failed_invalid_password"
	LoginFailedGuestsDisabled LoginResultCode = "failed_guests_disabled"
)

// JoinResultCode is the typed result of a join request.
type JoinResultCode string

const (
	JoinSucceeded             JoinResultCode = "succeeded"
	JoinFailedInvalidNickname JoinResultCode = "failed_invalid_nickname"
	JoinFailedNicknameInUse   JoinResultCode = "failed_nickname_in_use"
	JoinFailedServerPassword  JoinResultCode = "failed_server_password"
	JoinFailedBanned          JoinResultCode = "failed_banned"
	JoinFailedLoginRequired   JoinResultCode = "failed_login_required"
	JoinFailedNotConnected    JoinResultCode = "failed_not_connected"
)

// RegisterResultCode is the typed result of a registration request.
type RegisterResultCode string

const (
	RegisterSucceeded           RegisterResultCode = "succeeded"
	RegisterFailedUnsupported   RegisterResultCode = "failed_unsupported"
	RegisterFailedUsernameInUse RegisterResultCode = "failed_username_in_use"
	RegisterNotApproved         RegisterResultCode = "not_approved"
)

// ChannelEditResultCode is the typed result of a channel edit request.
type ChannelEditResultCode string

const (
	ChannelEditSucceeded            ChannelEditResultCode = "succeeded"
	ChannelEditFailedUnknownChannel ChannelEditResultCode = "failed_unknown_channel"
	ChannelEditFailedDefaultChannel ChannelEditResultCode = "failed_default_channel"
	ChannelEditFailedInvalid        ChannelEditResultCode = "failed_invalid_channel"
)

// ChannelChangeResultCode is the typed result of a move request.
type ChannelChangeResultCode string

const (
	ChannelChangeSucceeded            ChannelChangeResultCode = "succeeded"
	ChannelChangeFailedFull           ChannelChangeResultCode = "failed_full"
	ChannelChangeFailedUnknownChannel ChannelChangeResultCode = "failed_unknown_channel"
)

// SourceResultCode is the typed result of a source request. Succeeded goes to
// the requester only; every other joined connection sees NewSource for the
// same payload, so observers never double-count the requester's own source.
type SourceResultCode string

const (
	SourceSucceeded           SourceResultCode = "succeeded"
	SourceNewSource           SourceResultCode = "new_source"
	SourceFailedDuplicateName SourceResultCode = "failed_duplicate_name"
	SourceFailedInvalid       SourceResultCode = "failed_invalid"
	SourceFailedNotJoined     SourceResultCode = "failed_not_joined"
)

// Permission names a capability a user may hold, optionally scoped to a
// channel. A channel-scoped grant never implies the global form and vice
// versa; both are checked independently.
type Permission string

const (
	PermRequestChannelList         Permission = "request_channel_list"
	PermEditChannel                Permission = "edit_channel"
	PermMoveUser                   Permission = "move_user"
	PermRequestSource              Permission = "request_source"
	PermSendAudio                  Permission = "send_audio"
	PermSendAudioToMultipleTargets Permission = "send_audio_to_multiple_targets"
	PermKickUserFromChannel        Permission = "kick_user_from_channel"
	PermKickUserFromServer         Permission = "kick_user_from_server"
	PermBanUser                    Permission = "ban_user"
	PermMuteUser                   Permission = "mute_user"
	PermMuteSource                 Permission = "mute_source"
	PermRequestBanList             Permission = "request_ban_list"
	PermSetPermissions             Permission = "set_permissions"
)

// UserStatus is a bitmask of user-advertised flags.
type UserStatus uint32

const (
	StatusNone            UserStatus = 0
	StatusMutedMicrophone UserStatus = 1 << 0
	StatusMutedSound      UserStatus = 1 << 1
	StatusAway            UserStatus = 1 << 2
)
