package session

import (
	"testing"

	"github.com/zenmesh/transport/pkg/types"
)

func TestManagerCreateAndGetSession(t *testing.T) {
	m := NewManager(testLogger())
	peers := newFakePeerSource()

	id, err := m.CreateSession("manifest-a", func(Manifest) (PipelineRunner, error) { return newFakeRunner(), nil }, peers)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty session id")
	}

	router, err := m.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if router.ID() != id {
		t.Fatalf("router id mismatch: %s != %s", router.ID(), id)
	}

	defer m.TerminateSession(id)
}

func TestManagerCreateSessionGeneratesUniqueIDs(t *testing.T) {
	m := NewManager(testLogger())
	peers := newFakePeerSource()
	factory := func(Manifest) (PipelineRunner, error) { return newFakeRunner(), nil }

	id1, _ := m.CreateSession("m1", factory, peers)
	id2, _ := m.CreateSession("m2", factory, peers)
	defer m.TerminateSession(id1)
	defer m.TerminateSession(id2)

	if id1 == id2 {
		t.Fatal("expected distinct session ids")
	}
}

func TestManagerGetSessionNotFound(t *testing.T) {
	m := NewManager(testLogger())
	if _, err := m.GetSession("ghost"); err == nil {
		t.Fatal("expected error for unknown session id")
	}
}

func TestManagerTerminateSessionRemovesIt(t *testing.T) {
	m := NewManager(testLogger())
	peers := newFakePeerSource()

	id, err := m.CreateSession("manifest", func(Manifest) (PipelineRunner, error) { return newFakeRunner(), nil }, peers)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := m.TerminateSession(id); err != nil {
		t.Fatalf("TerminateSession failed: %v", err)
	}

	if _, err := m.GetSession(id); err == nil {
		t.Fatal("expected session to be gone after termination")
	}
}

func TestManagerRemovePeerFromSession(t *testing.T) {
	m := NewManager(testLogger())
	peers := newFakePeerSource()
	peers.add("peer-a")

	id, err := m.CreateSession("manifest", func(Manifest) (PipelineRunner, error) { return newFakeRunner(), nil }, peers)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	defer m.TerminateSession(id)

	router, _ := m.GetSession(id)
	router.AddPeer(types.PeerID("peer-a"))

	if err := m.RemovePeerFromSession(types.PeerID("peer-a"), id); err != nil {
		t.Fatalf("RemovePeerFromSession failed: %v", err)
	}

	if ok := router.SendInput(types.PeerID("peer-a"), types.NewControlRuntimeData(nil)); ok {
		t.Fatal("expected peer to be removed from routing")
	}
}

func TestManagerShutdownTerminatesAllSessions(t *testing.T) {
	m := NewManager(testLogger())
	peers := newFakePeerSource()
	factory := func(Manifest) (PipelineRunner, error) { return newFakeRunner(), nil }

	id1, _ := m.CreateSession("m1", factory, peers)
	id2, _ := m.CreateSession("m2", factory, peers)

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if m.Count() != 0 {
		t.Fatalf("expected 0 sessions after shutdown, got %d", m.Count())
	}
	if _, err := m.GetSession(id1); err == nil {
		t.Fatal("expected session 1 to be gone")
	}
	if _, err := m.GetSession(id2); err == nil {
		t.Fatal("expected session 2 to be gone")
	}
}
