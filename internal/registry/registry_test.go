package registry

import (
	"fmt"
	"sync"
	"testing"
)

type captureSink struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (s *captureSink) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *captureSink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = string(m)
	}
	return out
}

func TestSendToUser_FansOutToAllBindings(t *testing.T) {
	r := New()
	s1, s2 := &captureSink{}, &captureSink{}
	r.Register("u1", "alice", s1)
	r.Register("u1", "alice", s2)
	r.Register("u2", "bob", &captureSink{})

	n := r.SendToUser("u1", []byte("hello"))
	if n != 2 {
		t.Fatalf("expected 2 recipients, got %d", n)
	}
	if len(s1.received()) != 1 || len(s2.received()) != 1 {
		t.Fatalf("expected both bindings to receive")
	}
}

func TestSendToUser_OfflineIsNoOp(t *testing.T) {
	r := New()
	if n := r.SendToUser("ghost", []byte("x")); n != 0 {
		t.Fatalf("expected 0 recipients, got %d", n)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	r := New()
	sink := &captureSink{}
	b := r.Register("u1", "alice", sink)

	r.Unregister(b)
	r.Unregister(b) // second removal must be a no-op
	r.Unregister(nil)

	if n := r.SendToUser("u1", []byte("x")); n != 0 {
		t.Fatalf("expected no delivery after unregister, got %d", n)
	}
	if r.Connections("u1") != 0 {
		t.Fatalf("expected no connections")
	}
}

func TestSendToUser_PreservesPerUserOrder(t *testing.T) {
	r := New()
	sink := &captureSink{}
	r.Register("u1", "alice", sink)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.SendToUser("u1", []byte(fmt.Sprintf("%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	got := sink.received()
	if len(got) != 200 {
		t.Fatalf("expected 200 messages, got %d", len(got))
	}
	// Within each sender goroutine, relative order must hold.
	lastSeen := map[string]int{}
	for _, m := range got {
		var g, i int
		if _, err := fmt.Sscanf(m, "%d-%d", &g, &i); err != nil {
			t.Fatalf("bad message %q", m)
		}
		key := fmt.Sprintf("g%d", g)
		if prev, ok := lastSeen[key]; ok && i <= prev {
			t.Fatalf("out-of-order delivery for sender %d: %d after %d", g, i, prev)
		}
		lastSeen[key] = i
	}
}

func TestBinding_ActiveCallPointer(t *testing.T) {
	r := New()
	b := r.Register("u1", "alice", &captureSink{})

	if b.ActiveCallID() != "" {
		t.Fatalf("fresh binding must be idle")
	}
	b.SetActiveCall("call-1")
	if b.ActiveCallID() != "call-1" {
		t.Fatalf("expected active call to stick")
	}
	b.ClearActiveCall()
	if b.ActiveCallID() != "" {
		t.Fatalf("expected cleared pointer")
	}
}
