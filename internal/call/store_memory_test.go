package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(now time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.clock = func() time.Time { return now }
	return s
}

func TestCreate_StartsRinging(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	st := newTestStore(now)

	s, err := st.Create(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status != StatusRinging {
		t.Fatalf("expected RINGING, got %s", s.Status)
	}
	if s.ID == "" {
		t.Fatalf("expected assigned id")
	}
	if !s.CreatedAt.Equal(now) {
		t.Fatalf("expected created_at %v, got %v", now, s.CreatedAt)
	}
	if s.EndedAt != nil || s.ConnectedAt != nil {
		t.Fatalf("expected no timestamps on fresh session")
	}
}

func TestCreate_RejectsBusyParticipants(t *testing.T) {
	st := newTestStore(time.Now().UTC())
	ctx := context.Background()

	s, _ := st.Create(ctx, "a", "b")
	if _, _, err := st.Transition(ctx, s.ID, "a", StatusConnected); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Receiver busy.
	if _, err := st.Create(ctx, "c", "b"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for busy receiver, got %v", err)
	}
	// Caller busy.
	if _, err := st.Create(ctx, "a", "d"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for busy caller, got %v", err)
	}
	// Unrelated pair is fine.
	if _, err := st.Create(ctx, "c", "d"); err != nil {
		t.Fatalf("unrelated create: %v", err)
	}
}

func TestGet_EnforcesParticipants(t *testing.T) {
	st := newTestStore(time.Now().UTC())
	ctx := context.Background()

	s, _ := st.Create(ctx, "a", "b")

	if _, err := st.Get(ctx, s.ID, "b"); err != nil {
		t.Fatalf("receiver get: %v", err)
	}
	if _, err := st.Get(ctx, s.ID, "z"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := st.Get(ctx, "missing", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_Legality(t *testing.T) {
	cases := []struct {
		name    string
		path    []Status
		next    Status
		wantErr error
	}{
		{"ringing to connected", nil, StatusConnected, nil},
		{"ringing to ended", nil, StatusEnded, nil},
		{"ringing to missed", nil, StatusMissed, nil},
		{"connected to ended", []Status{StatusConnected}, StatusEnded, nil},
		{"connected to missed", []Status{StatusConnected}, StatusMissed, ErrInvalidTransition},
		{"ended to connected", []Status{StatusEnded}, StatusConnected, ErrInvalidTransition},
		{"missed to connected", []Status{StatusMissed}, StatusConnected, ErrInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newTestStore(time.Now().UTC())
			ctx := context.Background()
			s, _ := st.Create(ctx, "a", "b")
			for _, step := range tc.path {
				if _, _, err := st.Transition(ctx, s.ID, "a", step); err != nil {
					t.Fatalf("setup transition to %s: %v", step, err)
				}
			}
			_, _, err := st.Transition(ctx, s.ID, "a", tc.next)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestTransition_RequiresParticipant(t *testing.T) {
	st := newTestStore(time.Now().UTC())
	ctx := context.Background()
	s, _ := st.Create(ctx, "a", "b")

	if _, _, err := st.Transition(ctx, s.ID, "z", StatusConnected); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Forbidden must not mutate.
	got, _ := st.Get(ctx, s.ID, "a")
	if got.Status != StatusRinging {
		t.Fatalf("expected session unchanged, got %s", got.Status)
	}
}

func TestTransition_EndedAtIffTerminal(t *testing.T) {
	st := newTestStore(time.Now().UTC())
	ctx := context.Background()

	s, _ := st.Create(ctx, "a", "b")
	s, _, _ = st.Transition(ctx, s.ID, "a", StatusConnected)
	if s.EndedAt != nil {
		t.Fatalf("connected session must not have ended_at")
	}
	if s.ConnectedAt == nil {
		t.Fatalf("connected session must stamp connected_at")
	}

	s, _, _ = st.Transition(ctx, s.ID, "b", StatusEnded)
	if s.EndedAt == nil {
		t.Fatalf("ended session must have ended_at")
	}

	s2, _ := st.Create(ctx, "a", "b")
	s2, _, _ = st.Transition(ctx, s2.ID, "a", StatusMissed)
	if s2.EndedAt == nil {
		t.Fatalf("missed session must have ended_at")
	}
}

func TestTransition_TerminalIsIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	st := newTestStore(now)
	ctx := context.Background()

	s, _ := st.Create(ctx, "a", "b")
	first, changed, err := st.Transition(ctx, s.ID, "a", StatusEnded)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if !changed {
		t.Fatalf("first terminal transition must report changed")
	}

	// Later wall clock must not re-stamp ended_at.
	st.clock = func() time.Time { return now.Add(time.Hour) }
	again, changed, err := st.Transition(ctx, s.ID, "b", StatusEnded)
	if err != nil {
		t.Fatalf("re-end: %v", err)
	}
	if changed {
		t.Fatalf("terminal re-apply must report unchanged")
	}
	if !again.EndedAt.Equal(*first.EndedAt) {
		t.Fatalf("ended_at changed on terminal re-apply: %v vs %v", again.EndedAt, first.EndedAt)
	}
	if again.Status != StatusEnded {
		t.Fatalf("expected ENDED, got %s", again.Status)
	}

	// MISSED on an ended call is also a terminal no-op.
	noop, _, err := st.Transition(ctx, s.ID, "a", StatusMissed)
	if err != nil {
		t.Fatalf("missed on ended: %v", err)
	}
	if noop.Status != StatusEnded {
		t.Fatalf("terminal status must not change, got %s", noop.Status)
	}
}

func TestTransition_ConnectChecksBusy(t *testing.T) {
	ctx := context.Background()

	// Both calls were created while everyone was free; once the first
	// connects, connecting the second must fail.
	st2 := newTestStore(time.Now().UTC())
	ra, _ := st2.Create(ctx, "a", "b")
	rb, _ := st2.Create(ctx, "c", "a")
	if _, _, err := st2.Transition(ctx, ra.ID, "a", StatusConnected); err != nil {
		t.Fatalf("connect ra: %v", err)
	}
	if _, _, err := st2.Transition(ctx, rb.ID, "c", StatusConnected); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestTransition_ConcurrentEnd_SingleStamp(t *testing.T) {
	st := newTestStore(time.Unix(1700000000, 0).UTC())
	ctx := context.Background()

	s, _ := st.Create(ctx, "a", "b")
	if _, _, err := st.Transition(ctx, s.ID, "a", StatusConnected); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]Session, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requester := "a"
			if i%2 == 1 {
				requester = "b"
			}
			out, _, err := st.Transition(ctx, s.ID, requester, StatusEnded)
			if err != nil {
				t.Errorf("transition %d: %v", i, err)
				return
			}
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r.Status != StatusEnded || r.EndedAt == nil {
			t.Fatalf("expected every racer to observe terminal state, got %+v", r)
		}
		if !r.EndedAt.Equal(*results[0].EndedAt) {
			t.Fatalf("ended_at stamped more than once")
		}
	}
}

func TestListByParticipant_NewestFirst(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	st := NewMemoryStore()
	tick := 0
	st.clock = func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Minute)
	}
	ctx := context.Background()

	s1, _ := st.Create(ctx, "a", "b")
	s2, _ := st.Create(ctx, "b", "c")
	s3, _ := st.Create(ctx, "a", "c")
	_ = s2

	got, err := st.ListByParticipant(ctx, "a", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions for a, got %d", len(got))
	}
	if got[0].ID != s3.ID || got[1].ID != s1.ID {
		t.Fatalf("expected newest-first order, got %s then %s", got[0].ID, got[1].ID)
	}

	limited, _ := st.ListByParticipant(ctx, "a", 1)
	if len(limited) != 1 || limited[0].ID != s3.ID {
		t.Fatalf("expected limit to keep newest entry")
	}
}
