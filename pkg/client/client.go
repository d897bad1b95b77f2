// Package client is the Parlance client library: a connection to one server
// plus local mirrors of its users, channels, and sources. Mirrors are kept
// current by the message loop; reads never touch the network.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"parlance/pkg/protocol"
	"parlance/pkg/transport"
)

// DefaultRequestTimeout bounds each correlated request when the config does
// not say otherwise.
const DefaultRequestTimeout = 10 * time.Second

// Config carries the client settings.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. ws://host:8090/ws.
	ServerURL string
	// ClientName is reported in the connect handshake and as the User-Agent.
	ClientName string
	// RequestTimeout bounds each correlated request. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration
	// Transport tunables, zero values are fine.
	Transport transport.Config
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// RejectedError is returned by Connect when the server refuses the handshake.
type RejectedError struct {
	Reason protocol.RejectionReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("client: connection rejected: %s", e.Reason)
}

// RedirectedError is returned by Connect when the server is draining and
// points the client at a replacement host.
type RedirectedError struct {
	Host string
}

func (e *RedirectedError) Error() string {
	return fmt.Sprintf("client: redirected to %s", e.Host)
}

// Client is a connection to one Parlance server. Safe for concurrent use;
// event callbacks run sequentially on the receive goroutine.
type Client struct {
	config  Config
	log     *zap.Logger
	conn    *transport.Conn
	handler EventHandler

	Users    *UserRegistry
	Channels *ChannelRegistry
	Sources  *SourceRegistry

	mu     sync.RWMutex
	info   protocol.ServerInfo
	self   *User
	grants []protocol.PermissionInfo
}

// New creates an unconnected client.
func New(cfg Config) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "parlance-client"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		config:   cfg,
		log:      cfg.Logger.With(zap.String("component", "client")),
		handler:  &DefaultEventHandler{},
		Users:    newUserRegistry(),
		Channels: newChannelRegistry(),
		Sources:  newSourceRegistry(),
	}
}

// SetEventHandler installs a custom event handler. Must be called before
// Connect.
func (c *Client) SetEventHandler(h EventHandler) { c.handler = h }

// Connect dials the server and runs the version handshake. On success the
// server info mirror is populated; the connection stays open but no user
// state exists until Join.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := transport.Dial(ctx, c.config.ServerURL, c.config.ClientName, c.config.Transport, c.log)
	if err != nil {
		return err
	}
	conn.SetHandler(c.handleMessage)
	conn.SetCloseHandler(func(err error) { c.handler.OnDisconnected(err) })
	conn.Run()
	c.conn = conn

	resp, err := conn.Request(ctx, protocol.MsgConnect, protocol.Connect{
		Version:    protocol.Version,
		ClientName: c.config.ClientName,
	}, c.config.RequestTimeout)
	if err != nil {
		conn.Close(err)
		return err
	}

	switch resp.Type {
	case protocol.MsgServerInfo:
		var info protocol.ServerInfo
		if err := resp.DecodeBody(&info); err != nil {
			conn.Close(err)
			return err
		}
		c.mu.Lock()
		c.info = info
		c.mu.Unlock()
		return nil

	case protocol.MsgConnectionRejected:
		var rej protocol.ConnectionRejected
		if err := resp.DecodeBody(&rej); err != nil {
			conn.Close(err)
			return err
		}
		conn.Close(nil)
		return &RejectedError{Reason: rej.Reason}

	case protocol.MsgRedirect:
		var red protocol.Redirect
		if err := resp.DecodeBody(&red); err != nil {
			conn.Close(err)
			return err
		}
		conn.Close(nil)
		return &RedirectedError{Host: red.Host}

	default:
		err := fmt.Errorf("client: unexpected handshake reply %q", resp.Type)
		conn.Close(err)
		return err
	}
}

// Close tears the connection down.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close(nil)
	}
}

// Done is closed when the connection has terminated.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// ServerInfo returns the handshake server info.
func (c *Client) ServerInfo() protocol.ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Me returns the client's own mirrored user, nil before a successful Join.
func (c *Client) Me() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// MyPermissions returns the most recently pushed grant set.
func (c *Client) MyPermissions() []protocol.PermissionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.PermissionInfo, len(c.grants))
	copy(out, c.grants)
	return out
}

// Login authenticates with a registered account. Optional; a client may join
// as a guest where the server allows it.
func (c *Client) Login(ctx context.Context, username, password string) (protocol.LoginResult, error) {
	return transport.SendFor[protocol.LoginResult](ctx, c.conn, protocol.MsgLogin,
		protocol.Login{Username: username, Password: password}, c.config.RequestTimeout)
}

// LoginToken authenticates with a bearer token instead of a password.
func (c *Client) LoginToken(ctx context.Context, token string) (protocol.LoginResult, error) {
	return transport.SendFor[protocol.LoginResult](ctx, c.conn, protocol.MsgLogin,
		protocol.Login{Token: token}, c.config.RequestTimeout)
}

// Join enters the server under a nickname. On success the server pushes the
// full state snapshot, which lands in the mirrors before Join returns the
// result to the caller only if the snapshot precedes the reply; otherwise it
// arrives moments later through the message loop.
func (c *Client) Join(ctx context.Context, nickname, phonetic, serverPassword string) (protocol.JoinResult, error) {
	res, err := transport.SendFor[protocol.JoinResult](ctx, c.conn, protocol.MsgJoin,
		protocol.Join{Nickname: nickname, Phonetic: phonetic, ServerPassword: serverPassword},
		c.config.RequestTimeout)
	if err != nil {
		return res, err
	}
	if res.Result == protocol.JoinSucceeded && res.User != nil {
		self := c.Users.patch(*res.User)
		c.mu.Lock()
		c.self = self
		c.mu.Unlock()
	}
	return res, nil
}

// Register asks the server to create an account for the given credentials.
func (c *Client) Register(ctx context.Context, username, password string) (protocol.RegisterResult, error) {
	return transport.SendFor[protocol.RegisterResult](ctx, c.conn, protocol.MsgRegister,
		protocol.Register{Username: username, Password: password}, c.config.RequestTimeout)
}

// ApproveRegistration approves a pending registration by user id or username.
// Fire-and-forget; the server never answers approvals.
func (c *Client) ApproveRegistration(userID uint32, username string) error {
	env, err := protocol.NewEnvelope(protocol.MsgRegistrationApproval,
		protocol.RegistrationApproval{UserID: userID, Username: username})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// RequestChannelList fetches the channel tree and applies it to the mirror.
func (c *Client) RequestChannelList(ctx context.Context) ([]*Channel, error) {
	res, err := transport.SendFor[protocol.ChannelList](ctx, c.conn, protocol.MsgRequestChannelList,
		struct{}{}, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	c.Channels.replaceAll(res.Channels, res.DefaultChannelID)
	return c.Channels.All(), nil
}

// CreateChannel creates a channel under the given parent.
func (c *Client) CreateChannel(ctx context.Context, channel protocol.ChannelInfo) (protocol.ChannelEditResult, error) {
	channel.ChannelID = 0
	return transport.SendFor[protocol.ChannelEditResult](ctx, c.conn, protocol.MsgChannelEdit,
		protocol.ChannelEdit{Channel: channel}, c.config.RequestTimeout)
}

// UpdateChannel edits an existing channel.
func (c *Client) UpdateChannel(ctx context.Context, channel protocol.ChannelInfo) (protocol.ChannelEditResult, error) {
	return transport.SendFor[protocol.ChannelEditResult](ctx, c.conn, protocol.MsgChannelEdit,
		protocol.ChannelEdit{Channel: channel}, c.config.RequestTimeout)
}

// DeleteChannel removes a channel; its occupants land in the default channel.
func (c *Client) DeleteChannel(ctx context.Context, channelID uint32) (protocol.ChannelEditResult, error) {
	return transport.SendFor[protocol.ChannelEditResult](ctx, c.conn, protocol.MsgChannelEdit,
		protocol.ChannelEdit{Channel: protocol.ChannelInfo{ChannelID: channelID}, Delete: true},
		c.config.RequestTimeout)
}

// JoinChannel moves this client into a channel.
func (c *Client) JoinChannel(ctx context.Context, channelID uint32) (protocol.ChannelChangeResult, error) {
	return c.MoveUser(ctx, 0, channelID)
}

// MoveUser moves a user (0 = self) into a channel.
func (c *Client) MoveUser(ctx context.Context, userID, channelID uint32) (protocol.ChannelChangeResult, error) {
	return transport.SendFor[protocol.ChannelChangeResult](ctx, c.conn, protocol.MsgChannelChange,
		protocol.ChannelChange{TargetUserID: userID, TargetChannelID: channelID},
		c.config.RequestTimeout)
}

// RequestSource registers a named audio source owned by this client.
func (c *Client) RequestSource(ctx context.Context, name string, codec protocol.CodecArgs) (protocol.SourceResult, error) {
	res, err := transport.SendFor[protocol.SourceResult](ctx, c.conn, protocol.MsgRequestSource,
		protocol.RequestSource{Name: name, Codec: codec}, c.config.RequestTimeout)
	if err != nil {
		return res, err
	}
	if res.Result == protocol.SourceSucceeded && res.Source != nil {
		c.Sources.add(*res.Source)
	}
	return res, nil
}

// RequestSourceList fetches the source table and applies it to the mirror.
func (c *Client) RequestSourceList(ctx context.Context) ([]*Source, error) {
	res, err := transport.SendFor[protocol.SourceList](ctx, c.conn, protocol.MsgRequestSourceList,
		struct{}{}, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	c.Sources.replaceAll(res.Sources)
	return c.Sources.All(), nil
}

// SetAudioState announces talk start/stop on one of this client's sources.
func (c *Client) SetAudioState(sourceID uint32, starting bool) error {
	env, err := protocol.NewEnvelope(protocol.MsgClientAudioState,
		protocol.ClientAudioState{SourceID: sourceID, Starting: starting})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// SendAudioToChannels ships one audio payload from a source to channels.
func (c *Client) SendAudioToChannels(sourceID uint32, channelIDs []uint32, payload []byte) error {
	return c.sendAudio(sourceID, protocol.TargetChannels, channelIDs, payload)
}

// SendAudioToUsers ships one audio payload from a source to specific users.
func (c *Client) SendAudioToUsers(sourceID uint32, userIDs []uint32, payload []byte) error {
	return c.sendAudio(sourceID, protocol.TargetUsers, userIDs, payload)
}

func (c *Client) sendAudio(sourceID uint32, tt protocol.TargetType, ids []uint32, payload []byte) error {
	env, err := protocol.NewEnvelope(protocol.MsgClientAudio, protocol.ClientAudio{
		SourceID:   sourceID,
		TargetType: tt,
		TargetIDs:  ids,
	})
	if err != nil {
		return err
	}
	return c.conn.SendAudio(env, payload)
}

// MuteUser server-mutes or unmutes a user.
func (c *Client) MuteUser(userID uint32, unmute bool) error {
	env, err := protocol.NewEnvelope(protocol.MsgRequestMuteUser,
		protocol.RequestMuteUser{UserID: userID, Unmute: unmute})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// MuteSource server-mutes or unmutes a source.
func (c *Client) MuteSource(sourceID uint32, unmute bool) error {
	env, err := protocol.NewEnvelope(protocol.MsgRequestMuteSource,
		protocol.RequestMuteSource{SourceID: sourceID, Unmute: unmute})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// IgnoreUser flips the purely local ignore flag for a user; the server is
// not involved and other clients are unaffected.
func (c *Client) IgnoreUser(userID uint32, ignored bool) {
	c.Users.SetIgnored(userID, ignored)
}

// KickFromChannel evicts a user back to the default channel.
func (c *Client) KickFromChannel(userID uint32) error {
	return c.kick(userID, false)
}

// KickFromServer evicts a user from the server entirely.
func (c *Client) KickFromServer(userID uint32) error {
	return c.kick(userID, true)
}

func (c *Client) kick(userID uint32, fromServer bool) error {
	env, err := protocol.NewEnvelope(protocol.MsgKickUser,
		protocol.KickUser{UserID: userID, FromServer: fromServer})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// Ban adds a ban entry; RemoveBan removes a matching one.
func (c *Client) Ban(ban protocol.BanInfo) error {
	env, err := protocol.NewEnvelope(protocol.MsgBanUser, protocol.BanUser{Ban: ban})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// RemoveBan removes a ban entry matching the given mask and username.
func (c *Client) RemoveBan(ipMask, username string) error {
	env, err := protocol.NewEnvelope(protocol.MsgBanUser, protocol.BanUser{
		Ban:    protocol.BanInfo{IPMask: ipMask, Username: username},
		Remove: true,
	})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// RequestBanList fetches the active ban entries.
func (c *Client) RequestBanList(ctx context.Context) ([]protocol.BanInfo, error) {
	res, err := transport.SendFor[protocol.BanList](ctx, c.conn, protocol.MsgRequestBanList,
		struct{}{}, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return res.Bans, nil
}

// SetComment updates this client's own comment.
func (c *Client) SetComment(comment string) error {
	env, err := protocol.NewEnvelope(protocol.MsgSetComment, protocol.SetComment{Comment: comment})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// SetStatus updates this client's own status bitmask.
func (c *Client) SetStatus(status protocol.UserStatus) error {
	env, err := protocol.NewEnvelope(protocol.MsgSetStatus, protocol.SetStatus{Status: status})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// RequestPermissions fetches this client's own grant set.
func (c *Client) RequestPermissions(ctx context.Context) ([]protocol.PermissionInfo, error) {
	res, err := transport.SendFor[protocol.Permissions](ctx, c.conn, protocol.MsgRequestPermissions,
		struct{}{}, c.config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.grants = res.Permissions
	c.mu.Unlock()
	return res.Permissions, nil
}

// SetPermissions replaces another user's grant set.
func (c *Client) SetPermissions(userID uint32, perms []protocol.PermissionInfo) error {
	env, err := protocol.NewEnvelope(protocol.MsgSetPermissions,
		protocol.SetPermissions{UserID: userID, Permissions: perms})
	if err != nil {
		return err
	}
	return c.conn.Send(env)
}

// handleMessage is the single entry point for server-initiated traffic. It
// updates the mirrors first, then invokes the event handler, so callbacks
// always observe post-update state.
func (c *Client) handleMessage(ctx context.Context, env protocol.Envelope, audio []byte) {
	switch env.Type {
	case protocol.MsgServerInfo:
		var info protocol.ServerInfo
		if env.DecodeBody(&info) != nil {
			return
		}
		c.mu.Lock()
		c.info = info
		c.mu.Unlock()
		c.handler.OnServerInfo(info)

	case protocol.MsgUserJoined:
		var msg protocol.UserJoined
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.handler.OnUserJoined(c.Users.patch(msg.User))

	case protocol.MsgUserDisconnected:
		var msg protocol.UserDisconnected
		if env.DecodeBody(&msg) != nil {
			return
		}
		if u := c.Users.remove(msg.UserID); u != nil {
			c.handler.OnUserDisconnected(u)
		}

	case protocol.MsgUserList:
		var msg protocol.UserList
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.Users.replaceAll(msg.Users)
		c.handler.OnUserListReplaced()

	case protocol.MsgUserUpdated:
		var msg protocol.UserUpdated
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.handler.OnUserUpdated(c.Users.patch(msg.User))

	case protocol.MsgUserChangedChannel:
		var msg protocol.UserChangedChannel
		if env.DecodeBody(&msg) != nil {
			return
		}
		if u := c.Users.setChannel(msg.Change.TargetUserID, msg.Change.TargetChannelID); u != nil {
			c.handler.OnUserChangedChannel(msg.Change, u)
		}

	case protocol.MsgChannelList:
		var msg protocol.ChannelList
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.Channels.replaceAll(msg.Channels, msg.DefaultChannelID)
		c.handler.OnChannelListReplaced()

	case protocol.MsgSourceResult:
		// Only the unsolicited new_source broadcast lands here; the
		// requester's own succeeded reply is settled by correlation.
		var msg protocol.SourceResult
		if env.DecodeBody(&msg) != nil {
			return
		}
		if msg.Result == protocol.SourceNewSource && msg.Source != nil {
			c.handler.OnSourceAdded(c.Sources.add(*msg.Source))
		}

	case protocol.MsgSourceList:
		var msg protocol.SourceList
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.Sources.replaceAll(msg.Sources)
		c.handler.OnSourceListReplaced()

	case protocol.MsgSourcesRemoved:
		var msg protocol.SourcesRemoved
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.Sources.remove(msg.SourceIDs)
		c.handler.OnSourcesRemoved(msg.SourceIDs)

	case protocol.MsgAudioState:
		var msg protocol.AudioState
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.Sources.setTalking(msg.SourceID, msg.Starting)
		c.handler.OnAudioState(msg)

	case protocol.MsgServerAudio:
		var msg protocol.ServerAudio
		if env.DecodeBody(&msg) != nil {
			return
		}
		// Audio from an ignored owner is dropped locally.
		if src := c.Sources.Get(msg.SourceID); src != nil && c.Users.IsIgnored(src.OwnerID) {
			return
		}
		c.handler.OnAudio(msg.SourceID, audio)

	case protocol.MsgMuted:
		var msg protocol.Muted
		if env.DecodeBody(&msg) != nil {
			return
		}
		switch msg.Target {
		case protocol.MutedUser:
			c.Users.setMuted(msg.TargetID, !msg.Unmuted)
		case protocol.MutedSource:
			c.Sources.setMuted(msg.TargetID, !msg.Unmuted)
		}
		c.handler.OnMuted(msg)

	case protocol.MsgUserKicked:
		var msg protocol.UserKicked
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.handler.OnKicked(msg)

	case protocol.MsgPermissions:
		var msg protocol.Permissions
		if env.DecodeBody(&msg) != nil {
			return
		}
		c.mu.Lock()
		c.grants = msg.Permissions
		c.mu.Unlock()
		c.handler.OnPermissions(msg)

	case protocol.MsgRegisterResult:
		// Unsolicited approval of a parked registration; nothing to mirror.

	case protocol.MsgPermissionDenied:
		// Only denials of uncorrelated sends land here; request denials
		// surface as transport.ErrPermissionDenied on the caller.
		var msg protocol.PermissionDenied
		if err := env.DecodeBody(&msg); err == nil {
			c.handler.OnPermissionDenied(msg)
		}

	default:
		c.log.Debug("unhandled message", zap.String("type", string(env.Type)))
	}
}
