package protocol_test

import (
	"testing"

	"parlance/pkg/protocol"
)

func TestEnvelopeCorrelationSurvivesTheWire(t *testing.T) {
	env, err := protocol.NewEnvelope(protocol.MsgJoin, protocol.Join{Nickname: "Alice"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.Seq = 7

	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back protocol.Envelope
	if err := back.UnmarshalFrom(data); err != nil {
		t.Fatalf("UnmarshalFrom: %v", err)
	}
	if back.Type != protocol.MsgJoin || back.Seq != 7 {
		t.Fatalf("correlation fields lost: %+v", back)
	}
	var join protocol.Join
	if err := back.DecodeBody(&join); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if join.Nickname != "Alice" {
		t.Fatalf("body lost: %+v", join)
	}
}

func TestDecodeBodyEmptyBody(t *testing.T) {
	env := protocol.Envelope{Type: protocol.MsgRequestChannelList}
	var out protocol.ChannelList
	if err := env.DecodeBody(&out); err != nil {
		t.Fatalf("an absent body should decode to zero values, got %v", err)
	}
}

func TestBanInfoExpiry(t *testing.T) {
	permanent := protocol.BanInfo{Username: "x"}
	if permanent.IsExpired() {
		t.Fatalf("zero duration must mean permanent")
	}
}

func TestCloneIsDeep(t *testing.T) {
	u := &protocol.UserInfo{UserID: 1, Nickname: "Alice"}
	c := u.Clone()
	c.Nickname = "Other"
	if u.Nickname != "Alice" {
		t.Fatalf("Clone must not share storage")
	}
}
