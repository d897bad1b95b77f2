package state_test

import (
	"testing"

	"go.uber.org/zap"

	"parlance/internal/state"
	"parlance/pkg/protocol"
)

func newTree(t *testing.T) *state.ChannelTree {
	t.Helper()
	return state.NewChannelTree(zap.NewNop(), "Lobby")
}

func TestTreeSeedsDefaultChannel(t *testing.T) {
	tree := newTree(t)

	ch, ok := tree.Get(protocol.DefaultChannelID)
	if !ok {
		t.Fatalf("default channel missing")
	}
	if ch.Name != "Lobby" {
		t.Fatalf("default channel name: got %q, want Lobby", ch.Name)
	}
	if tree.Count() != 1 {
		t.Fatalf("fresh tree should hold one channel, got %d", tree.Count())
	}
}

func TestCreateAssignsFreshIDs(t *testing.T) {
	tree := newTree(t)

	id1, result := tree.Create(protocol.ChannelInfo{Name: "A", ParentID: protocol.DefaultChannelID})
	if result != protocol.ChannelEditSucceeded {
		t.Fatalf("create A: %s", result)
	}
	id2, result := tree.Create(protocol.ChannelInfo{Name: "B", ParentID: protocol.DefaultChannelID})
	if result != protocol.ChannelEditSucceeded {
		t.Fatalf("create B: %s", result)
	}
	if id2 <= id1 || id1 <= protocol.DefaultChannelID {
		t.Fatalf("channel ids not increasing: %d, %d", id1, id2)
	}
}

func TestCreateRejectsExplicitIDAndBadParent(t *testing.T) {
	tree := newTree(t)

	if _, result := tree.Create(protocol.ChannelInfo{ChannelID: 99, Name: "X"}); result != protocol.ChannelEditFailedInvalid {
		t.Fatalf("explicit id: got %s, want failed_invalid_channel", result)
	}
	if _, result := tree.Create(protocol.ChannelInfo{Name: "X", ParentID: 42}); result != protocol.ChannelEditFailedUnknownChannel {
		t.Fatalf("unknown parent: got %s, want failed_unknown_channel", result)
	}
	if _, result := tree.Create(protocol.ChannelInfo{Name: "  ", ParentID: protocol.DefaultChannelID}); result != protocol.ChannelEditFailedInvalid {
		t.Fatalf("blank name: got %s, want failed_invalid_channel", result)
	}
}

func TestUpdateUnknownChannel(t *testing.T) {
	tree := newTree(t)
	if result := tree.Update(protocol.ChannelInfo{ChannelID: 42, Name: "X"}); result != protocol.ChannelEditFailedUnknownChannel {
		t.Fatalf("got %s, want failed_unknown_channel", result)
	}
}

func TestDeleteDefaultChannelForbidden(t *testing.T) {
	tree := newTree(t)
	if result := tree.Delete(protocol.DefaultChannelID); result != protocol.ChannelEditFailedDefaultChannel {
		t.Fatalf("got %s, want failed_default_channel", result)
	}
}

func TestDeleteReparentsChildrenToDefault(t *testing.T) {
	tree := newTree(t)

	parent, _ := tree.Create(protocol.ChannelInfo{Name: "Parent", ParentID: protocol.DefaultChannelID})
	child, _ := tree.Create(protocol.ChannelInfo{Name: "Child", ParentID: parent})

	if result := tree.Delete(parent); result != protocol.ChannelEditSucceeded {
		t.Fatalf("delete: %s", result)
	}
	if tree.Exists(parent) {
		t.Fatalf("deleted channel still present")
	}
	ch, ok := tree.Get(child)
	if !ok {
		t.Fatalf("child vanished with its parent")
	}
	if ch.ParentID != protocol.DefaultChannelID {
		t.Fatalf("child parent: got %d, want %d", ch.ParentID, protocol.DefaultChannelID)
	}
}

func TestListSortedByID(t *testing.T) {
	tree := newTree(t)
	tree.Create(protocol.ChannelInfo{Name: "C", ParentID: protocol.DefaultChannelID})
	tree.Create(protocol.ChannelInfo{Name: "A", ParentID: protocol.DefaultChannelID})

	list := tree.List()
	for i := 1; i < len(list); i++ {
		if list[i].ChannelID <= list[i-1].ChannelID {
			t.Fatalf("channel list not sorted: %v", list)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tree := newTree(t)
	ch, _ := tree.Get(protocol.DefaultChannelID)
	ch.Name = "scribbled"

	again, _ := tree.Get(protocol.DefaultChannelID)
	if again.Name != "Lobby" {
		t.Fatalf("mutating a Get result leaked into the tree")
	}
}
