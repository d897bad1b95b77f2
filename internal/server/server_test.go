package server_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parlance/internal/config"
	"parlance/internal/permissions"
	"parlance/internal/server"
	"parlance/pkg/protocol"
)

type sentFrame struct {
	env   protocol.Envelope
	audio []byte
}

// fakePeer records everything the server sends it.
type fakePeer struct {
	id   uuid.UUID
	addr string

	mu     sync.Mutex
	sent   []sentFrame
	closed bool
}

func newFakePeer() *fakePeer {
	return &fakePeer{id: uuid.New(), addr: "127.0.0.1:1234"}
}

func (p *fakePeer) ID() uuid.UUID      { return p.id }
func (p *fakePeer) RemoteAddr() string { return p.addr }

func (p *fakePeer) Send(env protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentFrame{env: env})
	return nil
}

func (p *fakePeer) SendAudio(env protocol.Envelope, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentFrame{env: env, audio: payload})
	return nil
}

func (p *fakePeer) Close(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) frames() []sentFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sentFrame, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

// framesOf returns every recorded envelope of one type, in send order.
func (p *fakePeer) framesOf(t protocol.MessageType) []sentFrame {
	var out []sentFrame
	for _, f := range p.frames() {
		if f.env.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (p *fakePeer) lastOf(t *testing.T, typ protocol.MessageType) sentFrame {
	t.Helper()
	frames := p.framesOf(typ)
	if len(frames) == 0 {
		t.Fatalf("no %s frame sent to peer", typ)
	}
	return frames[len(frames)-1]
}

func decodeInto[T any](t *testing.T, f sentFrame) T {
	t.Helper()
	var out T
	if err := f.env.DecodeBody(&out); err != nil {
		t.Fatalf("decoding %s body: %v", f.env.Type, err)
	}
	return out
}

func testSettings() *config.Settings {
	cfg := &config.Settings{}
	cfg.Server.Name = "Test Server"
	cfg.Server.AllowGuestLogins = true
	cfg.Server.RegistrationMode = "normal"
	cfg.Audio.MinBitrate = 32000
	cfg.Audio.MaxBitrate = 128000
	cfg.Audio.DefaultBitrate = 64000
	return cfg
}

func newTestServer(t *testing.T) (*server.Server, *permissions.MemoryProvider) {
	t.Helper()
	perms := permissions.NewMemoryProvider(permissions.DefaultGuestPermissions()...)
	return server.New(zap.NewNop(), testSettings(), perms), perms
}

var nextSeq uint32

func send(t *testing.T, s *server.Server, p *fakePeer, typ protocol.MessageType, body any) uint32 {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, body)
	if err != nil {
		t.Fatalf("building %s: %v", typ, err)
	}
	nextSeq++
	env.Seq = nextSeq
	s.HandleMessage(context.Background(), p, env, nil)
	return env.Seq
}

func sendAudio(t *testing.T, s *server.Server, p *fakePeer, body protocol.ClientAudio, payload []byte) {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.MsgClientAudio, body)
	if err != nil {
		t.Fatalf("building client_audio: %v", err)
	}
	s.HandleMessage(context.Background(), p, env, payload)
}

// join runs the connect+join handshake and returns the assigned user id.
func join(t *testing.T, s *server.Server, p *fakePeer, nickname string) uint32 {
	t.Helper()
	s.Attach(p)
	send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version})
	seq := send(t, s, p, protocol.MsgJoin, protocol.Join{Nickname: nickname})

	var res protocol.JoinResult
	for _, f := range p.framesOf(protocol.MsgJoinResult) {
		if f.env.Ack == seq {
			res = decodeInto[protocol.JoinResult](t, f)
		}
	}
	if res.Result != protocol.JoinSucceeded || res.User == nil {
		t.Fatalf("join %q: got %+v", nickname, res)
	}
	p.reset()
	return res.User.UserID
}

func TestConnectVersionMismatchRejects(t *testing.T) {
	s, _ := newTestServer(t)
	p := newFakePeer()
	s.Attach(p)

	seq := send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version + 1})

	f := p.lastOf(t, protocol.MsgConnectionRejected)
	if f.env.Ack != seq {
		t.Fatalf("rejection not correlated: ack=%d want %d", f.env.Ack, seq)
	}
	rej := decodeInto[protocol.ConnectionRejected](t, f)
	if rej.Reason != protocol.RejectIncompatibleVersion {
		t.Fatalf("reason: got %s", rej.Reason)
	}
	if !p.closed {
		t.Fatalf("rejected connection should be closed")
	}
	if stats := s.GetStats(); stats.Connections != 0 {
		t.Fatalf("rejected connect must not create a session, got %d", stats.Connections)
	}
}

func TestConnectWhileDrainingRedirects(t *testing.T) {
	cfg := testSettings()
	cfg.Server.RedirectTo = "voice2.internal:8090"
	perms := permissions.NewMemoryProvider(permissions.DefaultGuestPermissions()...)
	s := server.New(zap.NewNop(), cfg, perms)

	p := newFakePeer()
	s.Attach(p)

	seq := send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version})

	f := p.lastOf(t, protocol.MsgRedirect)
	if f.env.Ack != seq {
		t.Fatalf("redirect not correlated: ack=%d want %d", f.env.Ack, seq)
	}
	red := decodeInto[protocol.Redirect](t, f)
	if red.Host != "voice2.internal:8090" {
		t.Fatalf("host: got %q", red.Host)
	}
	if !p.closed {
		t.Fatalf("redirected connection should be closed")
	}
	if stats := s.GetStats(); stats.Connections != 0 {
		t.Fatalf("redirected connect must not create a session, got %d", stats.Connections)
	}
}

func TestConnectHandshakeRepliesServerInfo(t *testing.T) {
	s, _ := newTestServer(t)
	p := newFakePeer()
	s.Attach(p)

	seq := send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version})

	f := p.lastOf(t, protocol.MsgServerInfo)
	if f.env.Ack != seq {
		t.Fatalf("server_info not correlated")
	}
	info := decodeInto[protocol.ServerInfo](t, f)
	if info.Name != "Test Server" || info.DefaultChannelID != protocol.DefaultChannelID {
		t.Fatalf("unexpected server info: %+v", info)
	}
}

func TestJoinPushesSnapshotAndNotifiesOthers(t *testing.T) {
	s, _ := newTestServer(t)
	observer := newFakePeer()
	join(t, s, observer, "Observer")

	p := newFakePeer()
	s.Attach(p)
	send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version})
	send(t, s, p, protocol.MsgJoin, protocol.Join{Nickname: "Alice"})

	// New user gets the full snapshot after the join reply.
	for _, typ := range []protocol.MessageType{
		protocol.MsgServerInfo, protocol.MsgChannelList, protocol.MsgUserList,
		protocol.MsgSourceList, protocol.MsgPermissions,
	} {
		if len(p.framesOf(typ)) == 0 {
			t.Errorf("snapshot missing %s", typ)
		}
	}
	users := decodeInto[protocol.UserList](t, p.lastOf(t, protocol.MsgUserList))
	if len(users.Users) != 2 {
		t.Fatalf("user list: got %d users, want 2", len(users.Users))
	}

	// The observer sees exactly one user_joined and no snapshot.
	joins := observer.framesOf(protocol.MsgUserJoined)
	if len(joins) != 1 {
		t.Fatalf("observer saw %d user_joined frames, want 1", len(joins))
	}
	if got := decodeInto[protocol.UserJoined](t, joins[0]); got.User.Nickname != "Alice" {
		t.Fatalf("observer saw wrong user: %+v", got.User)
	}
	if len(observer.framesOf(protocol.MsgUserList)) != 0 {
		t.Fatalf("observer must not receive a snapshot for someone else's join")
	}
}

func TestJoinFailureIsNotBroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	observer := newFakePeer()
	join(t, s, observer, "Observer")

	p := newFakePeer()
	s.Attach(p)
	send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version})
	seq := send(t, s, p, protocol.MsgJoin, protocol.Join{Nickname: "   "})

	f := p.lastOf(t, protocol.MsgJoinResult)
	if f.env.Ack != seq {
		t.Fatalf("join result not correlated")
	}
	if res := decodeInto[protocol.JoinResult](t, f); res.Result != protocol.JoinFailedInvalidNickname {
		t.Fatalf("got %s, want failed_invalid_nickname", res.Result)
	}
	if len(observer.frames()) != 0 {
		t.Fatalf("a failed join must not be announced to anyone")
	}
}

func TestPermissionDeniedCarriesDeniedType(t *testing.T) {
	s, _ := newTestServer(t)
	p := newFakePeer()
	join(t, s, p, "Alice")

	seq := send(t, s, p, protocol.MsgChannelEdit, protocol.ChannelEdit{
		Channel: protocol.ChannelInfo{Name: "New", ParentID: protocol.DefaultChannelID},
	})

	f := p.lastOf(t, protocol.MsgPermissionDenied)
	if f.env.Ack != seq {
		t.Fatalf("denial not correlated")
	}
	denied := decodeInto[protocol.PermissionDenied](t, f)
	if denied.DeniedType != protocol.MsgChannelEdit {
		t.Fatalf("denied type: got %s, want %s", denied.DeniedType, protocol.MsgChannelEdit)
	}
}

func TestChannelListBeforeJoin(t *testing.T) {
	s, _ := newTestServer(t)
	p := newFakePeer()
	s.Attach(p)
	send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version})
	p.reset()

	seq := send(t, s, p, protocol.MsgRequestChannelList, struct{}{})

	f := p.lastOf(t, protocol.MsgChannelList)
	if f.env.Ack != seq {
		t.Fatalf("channel list not correlated: ack=%d want %d", f.env.Ack, seq)
	}
	list := decodeInto[protocol.ChannelList](t, f)
	if len(list.Channels) == 0 || list.DefaultChannelID != protocol.DefaultChannelID {
		t.Fatalf("connected-but-not-joined browsing must see the tree: %+v", list)
	}
}

func TestChannelEditBroadcastReachesRequester(t *testing.T) {
	s, perms := newTestServer(t)

	admin := newFakePeer()
	adminID := join(t, s, admin, "Admin")
	perms.Grant(adminID, protocol.PermEditChannel, 0, true)
	observer := newFakePeer()
	join(t, s, observer, "Observer")
	admin.reset()
	observer.reset()

	send(t, s, admin, protocol.MsgChannelEdit, protocol.ChannelEdit{
		Channel: protocol.ChannelInfo{Name: "Workshop", ParentID: protocol.DefaultChannelID},
	})

	for _, p := range []*fakePeer{admin, observer} {
		if len(p.framesOf(protocol.MsgChannelList)) != 1 {
			t.Fatalf("every connection, the requester included, gets the rebuilt list")
		}
	}
}

func TestDeleteChannelOrdering(t *testing.T) {
	s, perms := newTestServer(t)

	admin := newFakePeer()
	adminID := join(t, s, admin, "Admin")
	perms.Grant(adminID, protocol.PermEditChannel, 0, true)

	occupant := newFakePeer()
	occupantID := join(t, s, occupant, "Occupant")

	// Create a channel and move the occupant into it.
	seq := send(t, s, admin, protocol.MsgChannelEdit, protocol.ChannelEdit{
		Channel: protocol.ChannelInfo{Name: "Doomed", ParentID: protocol.DefaultChannelID},
	})
	created := decodeInto[protocol.ChannelEditResult](t, admin.lastOf(t, protocol.MsgChannelEditResult))
	if created.Result != protocol.ChannelEditSucceeded {
		t.Fatalf("create: %s", created.Result)
	}
	send(t, s, occupant, protocol.MsgChannelChange, protocol.ChannelChange{TargetChannelID: created.ChannelID})
	admin.reset()
	occupant.reset()

	seq = send(t, s, admin, protocol.MsgChannelEdit, protocol.ChannelEdit{
		Channel: protocol.ChannelInfo{ChannelID: created.ChannelID},
		Delete:  true,
	})

	// The requester observes: occupant relocation, then the rebuilt channel
	// list, then its own correlated result. Strictly in that order.
	frames := admin.frames()
	var moveIdx, listIdx, resultIdx = -1, -1, -1
	for i, f := range frames {
		switch f.env.Type {
		case protocol.MsgUserChangedChannel:
			moveIdx = i
		case protocol.MsgChannelList:
			listIdx = i
		case protocol.MsgChannelEditResult:
			resultIdx = i
		}
	}
	if moveIdx == -1 || listIdx == -1 || resultIdx == -1 {
		t.Fatalf("missing frames after delete: %+v", frames)
	}
	if !(moveIdx < listIdx && listIdx < resultIdx) {
		t.Fatalf("delete ordering wrong: move=%d list=%d result=%d", moveIdx, listIdx, resultIdx)
	}

	move := decodeInto[protocol.UserChangedChannel](t, frames[moveIdx])
	if move.Change.TargetUserID != occupantID ||
		move.Change.TargetChannelID != protocol.DefaultChannelID ||
		move.Change.RequestingUserID != 0 {
		t.Fatalf("relocation must be system-initiated to the default channel: %+v", move.Change)
	}

	res := frames[resultIdx]
	if res.env.Ack != seq {
		t.Fatalf("edit result not correlated")
	}
	if decoded := decodeInto[protocol.ChannelEditResult](t, res); decoded.Result != protocol.ChannelEditSucceeded {
		t.Fatalf("delete result: %s", decoded.Result)
	}

	// The occupant sees its own relocation too.
	occMove := decodeInto[protocol.UserChangedChannel](t, occupant.lastOf(t, protocol.MsgUserChangedChannel))
	if occMove.Change.TargetUserID != occupantID {
		t.Fatalf("occupant not notified of its own move")
	}
}

func TestMoveToFullChannelAnswersOnlyRequester(t *testing.T) {
	s, perms := newTestServer(t)

	admin := newFakePeer()
	adminID := join(t, s, admin, "Admin")
	perms.Grant(adminID, protocol.PermEditChannel, 0, true)

	send(t, s, admin, protocol.MsgChannelEdit, protocol.ChannelEdit{
		Channel: protocol.ChannelInfo{Name: "Tiny", ParentID: protocol.DefaultChannelID, UserLimit: 1},
	})
	created := decodeInto[protocol.ChannelEditResult](t, admin.lastOf(t, protocol.MsgChannelEditResult))
	send(t, s, admin, protocol.MsgChannelChange, protocol.ChannelChange{TargetChannelID: created.ChannelID})

	p := newFakePeer()
	join(t, s, p, "Late")
	admin.reset()

	seq := send(t, s, p, protocol.MsgChannelChange, protocol.ChannelChange{TargetChannelID: created.ChannelID})

	f := p.lastOf(t, protocol.MsgChannelChangeResult)
	if f.env.Ack != seq {
		t.Fatalf("result not correlated")
	}
	if res := decodeInto[protocol.ChannelChangeResult](t, f); res.Result != protocol.ChannelChangeFailedFull {
		t.Fatalf("got %s, want failed_full", res.Result)
	}
	if len(admin.frames()) != 0 {
		t.Fatalf("a failed move must not be broadcast")
	}
}

func TestMoveToUnknownOrSameChannelIsSilent(t *testing.T) {
	s, _ := newTestServer(t)
	p := newFakePeer()
	join(t, s, p, "Alice")

	send(t, s, p, protocol.MsgChannelChange, protocol.ChannelChange{TargetChannelID: 999})
	send(t, s, p, protocol.MsgChannelChange, protocol.ChannelChange{TargetChannelID: protocol.DefaultChannelID})

	if frames := p.frames(); len(frames) != 0 {
		t.Fatalf("expected silence, got %+v", frames)
	}
}

func TestMoveBroadcastReachesRequester(t *testing.T) {
	s, perms := newTestServer(t)

	admin := newFakePeer()
	adminID := join(t, s, admin, "Admin")
	perms.Grant(adminID, protocol.PermEditChannel, 0, true)

	send(t, s, admin, protocol.MsgChannelEdit, protocol.ChannelEdit{
		Channel: protocol.ChannelInfo{Name: "Annex", ParentID: protocol.DefaultChannelID},
	})
	created := decodeInto[protocol.ChannelEditResult](t, admin.lastOf(t, protocol.MsgChannelEditResult))
	admin.reset()

	send(t, s, admin, protocol.MsgChannelChange, protocol.ChannelChange{TargetChannelID: created.ChannelID})

	moves := admin.framesOf(protocol.MsgUserChangedChannel)
	if len(moves) != 1 {
		t.Fatalf("got %d user_changed_channel frames on the requester, want 1", len(moves))
	}
	move := decodeInto[protocol.UserChangedChannel](t, moves[0])
	if move.Change.TargetUserID != adminID || move.Change.TargetChannelID != created.ChannelID {
		t.Fatalf("wrong change on the requester: %+v", move.Change)
	}
}

func TestSourceRequestSucceededVersusNewSource(t *testing.T) {
	s, _ := newTestServer(t)
	observer := newFakePeer()
	join(t, s, observer, "Observer")

	p := newFakePeer()
	join(t, s, p, "Alice")

	seq := send(t, s, p, protocol.MsgRequestSource, protocol.RequestSource{Name: "mic"})

	f := p.lastOf(t, protocol.MsgSourceResult)
	if f.env.Ack != seq {
		t.Fatalf("source result not correlated")
	}
	mine := decodeInto[protocol.SourceResult](t, f)
	if mine.Result != protocol.SourceSucceeded || mine.Source == nil {
		t.Fatalf("requester result: %+v", mine)
	}

	theirs := decodeInto[protocol.SourceResult](t, observer.lastOf(t, protocol.MsgSourceResult))
	if theirs.Result != protocol.SourceNewSource {
		t.Fatalf("observer result: got %s, want new_source", theirs.Result)
	}
	if theirs.Source == nil || theirs.Source.SourceID != mine.Source.SourceID {
		t.Fatalf("observer saw a different source")
	}
}

func TestSourceRequestBeforeJoin(t *testing.T) {
	s, _ := newTestServer(t)
	p := newFakePeer()
	s.Attach(p)
	send(t, s, p, protocol.MsgConnect, protocol.Connect{Version: protocol.Version})

	send(t, s, p, protocol.MsgRequestSource, protocol.RequestSource{Name: "mic"})
	res := decodeInto[protocol.SourceResult](t, p.lastOf(t, protocol.MsgSourceResult))
	if res.Result != protocol.SourceFailedNotJoined {
		t.Fatalf("got %s, want failed_not_joined", res.Result)
	}
}

func TestAudioFanOutDeduplicatesAndSkipsSender(t *testing.T) {
	s, perms := newTestServer(t)

	sender := newFakePeer()
	senderID := join(t, s, sender, "Sender")
	perms.Grant(senderID, protocol.PermSendAudioToMultipleTargets, 0, true)
	listener := newFakePeer()
	join(t, s, listener, "Listener")

	send(t, s, sender, protocol.MsgRequestSource, protocol.RequestSource{Name: "mic"})
	src := decodeInto[protocol.SourceResult](t, sender.lastOf(t, protocol.MsgSourceResult))
	sender.reset()
	listener.reset()

	// The same channel is targeted twice and also holds the sender; one
	// payload arrives at the listener and the sender hears nothing.
	payload := []byte{1, 2, 3}
	sendAudio(t, s, sender, protocol.ClientAudio{
		SourceID:   src.Source.SourceID,
		TargetType: protocol.TargetChannels,
		TargetIDs:  []uint32{protocol.DefaultChannelID, protocol.DefaultChannelID},
	}, payload)

	got := listener.framesOf(protocol.MsgServerAudio)
	if len(got) != 1 {
		t.Fatalf("listener received %d audio frames, want 1", len(got))
	}
	if string(got[0].audio) != string(payload) {
		t.Fatalf("payload mangled")
	}
	if len(sender.framesOf(protocol.MsgServerAudio)) != 0 {
		t.Fatalf("sender must never hear itself")
	}
}

func TestMultiTargetAudioNeedsExtraPermission(t *testing.T) {
	s, _ := newTestServer(t)

	sender := newFakePeer()
	join(t, s, sender, "Sender")
	listener := newFakePeer()
	listenerID := join(t, s, listener, "Listener")

	send(t, s, sender, protocol.MsgRequestSource, protocol.RequestSource{Name: "mic"})
	src := decodeInto[protocol.SourceResult](t, sender.lastOf(t, protocol.MsgSourceResult))
	sender.reset()
	listener.reset()

	sendAudio(t, s, sender, protocol.ClientAudio{
		SourceID:   src.Source.SourceID,
		TargetType: protocol.TargetUsers,
		TargetIDs:  []uint32{listenerID, 999},
	}, []byte{1})

	denials := sender.framesOf(protocol.MsgPermissionDenied)
	if len(denials) != 1 {
		t.Fatalf("got %d denials, want exactly 1", len(denials))
	}
	if d := decodeInto[protocol.PermissionDenied](t, denials[0]); d.DeniedType != protocol.MsgClientAudio {
		t.Fatalf("denied type: %s", d.DeniedType)
	}
	if len(listener.frames()) != 0 {
		t.Fatalf("no audio may be delivered when the permission gate fails")
	}
}

func TestAudioFromMutedSourceDropsSilently(t *testing.T) {
	s, perms := newTestServer(t)

	sender := newFakePeer()
	senderID := join(t, s, sender, "Sender")
	perms.Grant(senderID, protocol.PermMuteSource, 0, true)
	listener := newFakePeer()
	listenerID := join(t, s, listener, "Listener")

	send(t, s, sender, protocol.MsgRequestSource, protocol.RequestSource{Name: "mic"})
	src := decodeInto[protocol.SourceResult](t, sender.lastOf(t, protocol.MsgSourceResult))
	send(t, s, sender, protocol.MsgRequestMuteSource, protocol.RequestMuteSource{SourceID: src.Source.SourceID})
	sender.reset()
	listener.reset()

	sendAudio(t, s, sender, protocol.ClientAudio{
		SourceID:   src.Source.SourceID,
		TargetType: protocol.TargetUsers,
		TargetIDs:  []uint32{listenerID},
	}, []byte{1})

	if len(sender.frames()) != 0 || len(listener.frames()) != 0 {
		t.Fatalf("audio from a muted source must vanish without a reply")
	}
}

func TestAudioStateFromMutedSourceDropsSilently(t *testing.T) {
	s, perms := newTestServer(t)

	sender := newFakePeer()
	senderID := join(t, s, sender, "Sender")
	perms.Grant(senderID, protocol.PermMuteSource, 0, true)
	listener := newFakePeer()
	join(t, s, listener, "Listener")

	send(t, s, sender, protocol.MsgRequestSource, protocol.RequestSource{Name: "mic"})
	src := decodeInto[protocol.SourceResult](t, sender.lastOf(t, protocol.MsgSourceResult))
	send(t, s, sender, protocol.MsgRequestMuteSource, protocol.RequestMuteSource{SourceID: src.Source.SourceID})
	sender.reset()
	listener.reset()

	send(t, s, sender, protocol.MsgClientAudioState, protocol.ClientAudioState{
		SourceID: src.Source.SourceID,
		Starting: true,
	})

	if len(sender.frames()) != 0 || len(listener.frames()) != 0 {
		t.Fatalf("talk state from a muted source must vanish without a reply")
	}
}

func TestMuteUserBroadcastsOncePerChange(t *testing.T) {
	s, perms := newTestServer(t)

	moderator := newFakePeer()
	modID := join(t, s, moderator, "Mod")
	perms.Grant(modID, protocol.PermMuteUser, 0, true)
	target := newFakePeer()
	targetID := join(t, s, target, "Target")
	moderator.reset()
	target.reset()

	send(t, s, moderator, protocol.MsgRequestMuteUser, protocol.RequestMuteUser{UserID: targetID})
	send(t, s, moderator, protocol.MsgRequestMuteUser, protocol.RequestMuteUser{UserID: targetID})

	muted := target.framesOf(protocol.MsgMuted)
	if len(muted) != 1 {
		t.Fatalf("got %d muted broadcasts, want 1", len(muted))
	}
	msg := decodeInto[protocol.Muted](t, muted[0])
	if msg.Target != protocol.MutedUser || msg.TargetID != targetID || msg.Unmuted {
		t.Fatalf("unexpected muted payload: %+v", msg)
	}
}

func TestDisconnectRemovesSourcesAndAnnounces(t *testing.T) {
	s, _ := newTestServer(t)

	leaver := newFakePeer()
	leaverID := join(t, s, leaver, "Leaver")
	send(t, s, leaver, protocol.MsgRequestSource, protocol.RequestSource{Name: "mic"})

	observer := newFakePeer()
	join(t, s, observer, "Observer")
	observer.reset()

	s.HandleDisconnect(leaver.ID())

	removed := decodeInto[protocol.SourcesRemoved](t, observer.lastOf(t, protocol.MsgSourcesRemoved))
	if len(removed.SourceIDs) != 1 {
		t.Fatalf("source removal: %+v", removed)
	}
	gone := decodeInto[protocol.UserDisconnected](t, observer.lastOf(t, protocol.MsgUserDisconnected))
	if gone.UserID != leaverID {
		t.Fatalf("wrong user announced: %d", gone.UserID)
	}
	if stats := s.GetStats(); stats.JoinedUsers != 1 || stats.Sources != 0 {
		t.Fatalf("state not cleaned up: %+v", stats)
	}
}

func TestKickFromServerClosesTarget(t *testing.T) {
	s, perms := newTestServer(t)

	kicker := newFakePeer()
	kickerID := join(t, s, kicker, "Kicker")
	perms.Grant(kickerID, protocol.PermKickUserFromServer, 0, true)
	target := newFakePeer()
	targetID := join(t, s, target, "Target")

	send(t, s, kicker, protocol.MsgKickUser, protocol.KickUser{UserID: targetID, FromServer: true})

	kicked := decodeInto[protocol.UserKicked](t, target.lastOf(t, protocol.MsgUserKicked))
	if kicked.UserID != targetID || kicked.KickerID != kickerID || !kicked.FromServer {
		t.Fatalf("unexpected kick payload: %+v", kicked)
	}
	if !target.closed {
		t.Fatalf("server kick must close the target connection")
	}
}

func TestCommentUpdateBroadcastsOncePerChange(t *testing.T) {
	s, _ := newTestServer(t)

	p := newFakePeer()
	userID := join(t, s, p, "Alice")
	observer := newFakePeer()
	join(t, s, observer, "Observer")
	observer.reset()

	send(t, s, p, protocol.MsgSetComment, protocol.SetComment{Comment: "hello"})
	send(t, s, p, protocol.MsgSetComment, protocol.SetComment{Comment: "hello"})

	updates := observer.framesOf(protocol.MsgUserUpdated)
	if len(updates) != 1 {
		t.Fatalf("got %d user_updated broadcasts, want 1", len(updates))
	}
	if u := decodeInto[protocol.UserUpdated](t, updates[0]); u.User.UserID != userID || u.User.Comment != "hello" {
		t.Fatalf("unexpected update: %+v", u.User)
	}
}
