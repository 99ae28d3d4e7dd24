package history

import (
	"context"
	"time"

	"videocall-relay/internal/call"
)

// Direction of a call relative to the viewer.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Record is one call as the viewer sees it in their history.
type Record struct {
	call.Session

	Direction string `json:"direction"`
	PeerID    string `json:"peer_id"`

	// DurationSeconds is the session lifetime; for live calls it keeps
	// growing until the call reaches a terminal status.
	DurationSeconds int64 `json:"duration_seconds"`

	// TalkSeconds is connect-to-end time, zero for calls that never
	// connected or are still live.
	TalkSeconds int64 `json:"talk_seconds"`
}

// Summary aggregates a viewer's call history.
type Summary struct {
	TotalCalls int `json:"total_calls"`

	ByStatus map[call.Status]int `json:"by_status"`

	TotalTalkSeconds int64 `json:"total_talk_seconds"`

	// AverageTalkSeconds is over completed calls only; zero when none
	// completed.
	AverageTalkSeconds int64 `json:"average_talk_seconds"`
}

// Service is the read side of call sessions. It never mutates; all writes go
// through the relay engine.
type Service struct {
	store call.Store
	clock func() time.Time
}

func NewService(store call.Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// List returns the viewer's calls, newest first. limit <= 0 means no limit.
func (s *Service) List(ctx context.Context, viewerID string, limit int) ([]Record, error) {
	sessions, err := s.store.ListByParticipant(ctx, viewerID, limit)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	out := make([]Record, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.record(sess, viewerID, now))
	}
	return out, nil
}

// Summarize aggregates the viewer's history over the store's default listing
// window.
func (s *Service) Summarize(ctx context.Context, viewerID string) (Summary, error) {
	sessions, err := s.store.ListByParticipant(ctx, viewerID, 0)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{ByStatus: map[call.Status]int{}}
	var completed int64
	for _, sess := range sessions {
		sum.TotalCalls++
		sum.ByStatus[sess.Status]++
		if talk := talkSeconds(sess); talk > 0 {
			sum.TotalTalkSeconds += talk
			completed++
		}
	}
	if completed > 0 {
		sum.AverageTalkSeconds = sum.TotalTalkSeconds / completed
	}
	return sum, nil
}

func (s *Service) record(sess call.Session, viewerID string, now time.Time) Record {
	dir := DirectionIncoming
	if sess.CallerID == viewerID {
		dir = DirectionOutgoing
	}
	return Record{
		Session:         sess,
		Direction:       dir,
		PeerID:          sess.PeerOf(viewerID),
		DurationSeconds: int64(sess.Duration(now) / time.Second),
		TalkSeconds:     talkSeconds(sess),
	}
}

func talkSeconds(sess call.Session) int64 {
	if sess.ConnectedAt == nil || sess.EndedAt == nil {
		return 0
	}
	return int64(sess.EndedAt.Sub(*sess.ConnectedAt) / time.Second)
}
