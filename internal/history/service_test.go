package history

import (
	"context"
	"testing"
	"time"

	"videocall-relay/internal/call"
)

// seedStore builds a store with a known timeline for user "a":
//   - an ended call a->b that rang 1m then talked 5m
//   - a missed call c->a
//   - a live connected call a->d
func seedStore(t *testing.T, base time.Time) (*call.MemoryStore, map[string]string) {
	t.Helper()
	ctx := context.Background()
	st := call.NewMemoryStore()
	now := base
	st.SetClock(func() time.Time { return now })

	ids := map[string]string{}

	ended, err := st.Create(ctx, "a", "b")
	if err != nil {
		t.Fatalf("create ended: %v", err)
	}
	now = base.Add(time.Minute)
	if _, _, err := st.Transition(ctx, ended.ID, "b", call.StatusConnected); err != nil {
		t.Fatalf("connect: %v", err)
	}
	now = base.Add(6 * time.Minute)
	if _, _, err := st.Transition(ctx, ended.ID, "a", call.StatusEnded); err != nil {
		t.Fatalf("end: %v", err)
	}
	ids["ended"] = ended.ID

	now = base.Add(10 * time.Minute)
	missed, err := st.Create(ctx, "c", "a")
	if err != nil {
		t.Fatalf("create missed: %v", err)
	}
	now = base.Add(11 * time.Minute)
	if _, _, err := st.Transition(ctx, missed.ID, "a", call.StatusMissed); err != nil {
		t.Fatalf("miss: %v", err)
	}
	ids["missed"] = missed.ID

	now = base.Add(20 * time.Minute)
	live, err := st.Create(ctx, "a", "d")
	if err != nil {
		t.Fatalf("create live: %v", err)
	}
	if _, _, err := st.Transition(ctx, live.ID, "d", call.StatusConnected); err != nil {
		t.Fatalf("connect live: %v", err)
	}
	ids["live"] = live.ID

	return st, ids
}

func TestList_ViewerPerspective(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	st, ids := seedStore(t, base)

	svc := NewService(st)
	svc.clock = func() time.Time { return base.Add(25 * time.Minute) }

	got, err := svc.List(context.Background(), "a", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}

	// Newest first.
	if got[0].ID != ids["live"] || got[1].ID != ids["missed"] || got[2].ID != ids["ended"] {
		t.Fatalf("unexpected order: %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}

	live := got[0]
	if live.Direction != DirectionOutgoing || live.PeerID != "d" {
		t.Fatalf("live call perspective wrong: %+v", live)
	}
	if live.DurationSeconds != 5*60 {
		t.Fatalf("live duration should grow with the clock, got %d", live.DurationSeconds)
	}
	if live.TalkSeconds != 0 {
		t.Fatalf("live call has no talk time yet, got %d", live.TalkSeconds)
	}

	missed := got[1]
	if missed.Direction != DirectionIncoming || missed.PeerID != "c" {
		t.Fatalf("missed call perspective wrong: %+v", missed)
	}

	ended := got[2]
	if ended.DurationSeconds != 6*60 {
		t.Fatalf("ended lifetime should be 6m, got %ds", ended.DurationSeconds)
	}
	if ended.TalkSeconds != 5*60 {
		t.Fatalf("ended talk time should be 5m, got %ds", ended.TalkSeconds)
	}
}

func TestList_Limit(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	st, ids := seedStore(t, base)

	svc := NewService(st)
	got, err := svc.List(context.Background(), "a", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != ids["live"] {
		t.Fatalf("expected only the newest record, got %+v", got)
	}
}

func TestSummarize(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	st, _ := seedStore(t, base)

	svc := NewService(st)
	sum, err := svc.Summarize(context.Background(), "a")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if sum.TotalCalls != 3 {
		t.Fatalf("expected 3 calls, got %d", sum.TotalCalls)
	}
	if sum.ByStatus[call.StatusEnded] != 1 || sum.ByStatus[call.StatusMissed] != 1 || sum.ByStatus[call.StatusConnected] != 1 {
		t.Fatalf("unexpected status counts: %+v", sum.ByStatus)
	}
	if sum.TotalTalkSeconds != 5*60 {
		t.Fatalf("expected 300 talk seconds, got %d", sum.TotalTalkSeconds)
	}
	if sum.AverageTalkSeconds != 5*60 {
		t.Fatalf("average over one completed call should be 300, got %d", sum.AverageTalkSeconds)
	}
}

func TestSummarize_EmptyHistory(t *testing.T) {
	svc := NewService(call.NewMemoryStore())
	sum, err := svc.Summarize(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalCalls != 0 || sum.AverageTalkSeconds != 0 {
		t.Fatalf("expected zero summary, got %+v", sum)
	}
}
