// Package signaling relays WebRTC negotiation payloads between two
// connected users and tracks the lifecycle of each call attempt. Payloads
// are forwarded as opaque JSON and never inspected.
package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/npezzotti/spark-chat/internal/types"
)

type State int

const (
	Ringing State = iota
	Accepted
	Rejected
	Ended
)

func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

func (s State) live() bool {
	return s == Ringing || s == Accepted
}

type Session struct {
	ID         string
	CallerID   string
	CalleeID   string
	CallerName string
	Offer      json.RawMessage
	State      State
	StartedAt  time.Time
}

func (s *Session) between(a, b string) bool {
	return (s.CallerID == a && s.CalleeID == b) || (s.CallerID == b && s.CalleeID == a)
}

// other returns the party of the session that is not userId.
func (s *Session) other(userId string) string {
	if s.CallerID == userId {
		return s.CalleeID
	}
	return s.CallerID
}

// Notifier is the part of the socket server the coordinator routes
// through.
type Notifier interface {
	IsOnline(userId string) bool
	EmitToUser(userId, event string, payload any) int
}

// Coordinator holds the in-memory call table. Sessions are keyed by a
// generated call id so a callee can have several calls ringing at once.
type Coordinator struct {
	log      *zap.SugaredLogger
	notifier Notifier
	mu       sync.Mutex
	sessions map[string]*Session
	newID    func() string
	now      func() time.Time
	// onChange is told the number of live sessions after every change.
	onChange func(active int)
}

func NewCoordinator(logger *zap.SugaredLogger, notifier Notifier) *Coordinator {
	return &Coordinator{
		log:      logger,
		notifier: notifier,
		sessions: make(map[string]*Session),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		onChange: func(int) {},
	}
}

// OnChange registers fn to be told the number of live calls whenever it
// changes.
func (c *Coordinator) OnChange(fn func(active int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// CallUser starts ringing callee. It returns the new session and false
// when the callee is not connected, in which case nothing is recorded.
func (c *Coordinator) CallUser(callerId, calleeId string, offer json.RawMessage, callerName string) (Session, bool) {
	if callerId == "" || calleeId == "" || callerId == calleeId {
		c.log.Debugw("dropping call with invalid parties", "caller", callerId, "callee", calleeId)
		return Session{}, false
	}

	if !c.notifier.IsOnline(calleeId) {
		c.log.Debugw("dropping call to offline user", "caller", callerId, "callee", calleeId)
		return Session{}, false
	}

	c.mu.Lock()
	s := &Session{
		ID:         c.newID(),
		CallerID:   callerId,
		CalleeID:   calleeId,
		CallerName: callerName,
		Offer:      offer,
		State:      Ringing,
		StartedAt:  c.now(),
	}
	c.sessions[s.ID] = s
	c.changedLocked()
	snapshot := *s
	c.mu.Unlock()

	c.notifier.EmitToUser(calleeId, types.EventCallUser, types.IncomingCall{
		CallId:     s.ID,
		Offer:      offer,
		CallerId:   callerId,
		CallerName: callerName,
	})

	return snapshot, true
}

// AnswerCall accepts a ringing call placed by callerId to calleeId and
// relays the answer to the caller. Without a call id the most recent
// ringing call between the two is answered.
func (c *Coordinator) AnswerCall(calleeId, callerId, callId string, answer json.RawMessage) bool {
	c.mu.Lock()
	s := c.ringingLocked(calleeId, callerId, callId)
	if s == nil {
		c.mu.Unlock()
		c.log.Debugw("dropping answer for unknown call", "call_id", callId, "caller", callerId, "callee", calleeId)
		return false
	}
	s.State = Accepted
	id, caller := s.ID, s.CallerID
	c.mu.Unlock()

	c.notifier.EmitToUser(caller, types.EventCallAccepted, types.CallAccepted{
		CallId:   id,
		CalleeId: calleeId,
		Answer:   answer,
	})
	return true
}

// RejectCall declines a ringing call and removes it.
func (c *Coordinator) RejectCall(calleeId, callerId, callId string) bool {
	c.mu.Lock()
	s := c.ringingLocked(calleeId, callerId, callId)
	if s == nil {
		c.mu.Unlock()
		c.log.Debugw("dropping reject for unknown call", "call_id", callId, "caller", callerId, "callee", calleeId)
		return false
	}
	s.State = Rejected
	delete(c.sessions, s.ID)
	c.changedLocked()
	id, caller := s.ID, s.CallerID
	c.mu.Unlock()

	c.notifier.EmitToUser(caller, types.EventCallRejected, types.CallRejected{CallId: id, CalleeId: calleeId})
	return true
}

// RelayCandidate forwards an ICE candidate to the other party of a live
// call.
func (c *Coordinator) RelayCandidate(fromId, toId, callId string, candidate json.RawMessage) bool {
	c.mu.Lock()
	s := c.liveLocked(fromId, toId, callId)
	if s == nil {
		c.mu.Unlock()
		c.log.Debugw("dropping candidate for unknown call", "call_id", callId, "from", fromId, "to", toId)
		return false
	}
	id := s.ID
	c.mu.Unlock()

	c.notifier.EmitToUser(toId, types.EventIceCandidate, types.IceCandidate{
		CallId:    id,
		FromId:    fromId,
		Candidate: candidate,
	})
	return true
}

// EndCall hangs up a live call between fromId and toId. When callId is
// empty every live call between the pair is ended. Ending a call that is
// already gone is a no-op.
func (c *Coordinator) EndCall(fromId, toId, callId string) int {
	c.mu.Lock()
	var ended []*Session
	for id, s := range c.sessions {
		if !s.State.live() || !s.between(fromId, toId) {
			continue
		}
		if callId != "" && id != callId {
			continue
		}
		s.State = Ended
		delete(c.sessions, id)
		ended = append(ended, s)
	}
	if len(ended) > 0 {
		c.changedLocked()
	}
	c.mu.Unlock()

	for _, s := range ended {
		c.notifier.EmitToUser(s.other(fromId), types.EventCallEnded, types.CallEnded{CallId: s.ID, FromId: fromId})
	}
	if len(ended) == 0 {
		c.log.Debugw("dropping end for unknown call", "call_id", callId, "from", fromId, "to", toId)
	}
	return len(ended)
}

// EndAllFor ends every call userId takes part in. It runs when the
// user's last connection goes away.
func (c *Coordinator) EndAllFor(userId string) int {
	c.mu.Lock()
	var ended []*Session
	for id, s := range c.sessions {
		if s.CallerID != userId && s.CalleeID != userId {
			continue
		}
		s.State = Ended
		delete(c.sessions, id)
		ended = append(ended, s)
	}
	if len(ended) > 0 {
		c.changedLocked()
	}
	c.mu.Unlock()

	for _, s := range ended {
		c.notifier.EmitToUser(s.other(userId), types.EventCallEnded, types.CallEnded{CallId: s.ID, FromId: userId})
	}
	return len(ended)
}

// Session returns a copy of the call with the given id.
func (c *Coordinator) Session(callId string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[callId]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// ringingLocked finds the ringing call from callerId to calleeId. With
// an empty callId the newest one wins.
func (c *Coordinator) ringingLocked(calleeId, callerId, callId string) *Session {
	if callId != "" {
		s, ok := c.sessions[callId]
		if !ok || s.State != Ringing || s.CalleeID != calleeId || (callerId != "" && s.CallerID != callerId) {
			return nil
		}
		return s
	}

	var newest *Session
	for _, s := range c.sessions {
		if s.State != Ringing || s.CalleeID != calleeId || s.CallerID != callerId {
			continue
		}
		if newest == nil || s.StartedAt.After(newest.StartedAt) {
			newest = s
		}
	}
	return newest
}

func (c *Coordinator) liveLocked(a, b, callId string) *Session {
	if callId != "" {
		s, ok := c.sessions[callId]
		if !ok || !s.State.live() || !s.between(a, b) {
			return nil
		}
		return s
	}

	var newest *Session
	for _, s := range c.sessions {
		if !s.State.live() || !s.between(a, b) {
			continue
		}
		if newest == nil || s.StartedAt.After(newest.StartedAt) {
			newest = s
		}
	}
	return newest
}

func (c *Coordinator) changedLocked() {
	c.onChange(len(c.sessions))
}
