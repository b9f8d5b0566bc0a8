package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/npezzotti/spark-chat/internal/cache"
	"github.com/npezzotti/spark-chat/internal/database"
	"github.com/npezzotti/spark-chat/internal/signaling"
	"github.com/npezzotti/spark-chat/internal/stats"
	"github.com/npezzotti/spark-chat/internal/types"
)

const (
	storageTimeout    = 10 * time.Second
	defaultEventRate  = 20
	defaultEventBurst = 40
)

// MessageHandler handles chat intents received over the socket.
type MessageHandler interface {
	SendText(ctx context.Context, sender, receiver, body string) (database.Chat, error)
	DeleteMessage(ctx context.Context, requester, chatId, messageId, receiver string) (types.MessageDeleted, error)
	Typing(from, roomId string) int
	StopTyping(from, roomId string) int
	CanJoin(ctx context.Context, userId, roomId string) (bool, error)
}

// CallHandler handles call signaling received over the socket.
type CallHandler interface {
	CallUser(callerId, calleeId string, offer json.RawMessage, callerName string) (signaling.Session, bool)
	AnswerCall(calleeId, callerId, callId string, answer json.RawMessage) bool
	RejectCall(calleeId, callerId, callId string) bool
	RelayCandidate(fromId, toId, callId string, candidate json.RawMessage) bool
	EndCall(fromId, toId, callId string) int
	EndAllFor(userId string) int
}

type Options struct {
	// Mirror receives online/offline transitions in addition to the user
	// repository. Optional.
	Mirror cache.PresenceMirror
	// EventRate and EventBurst limit inbound socket events per
	// connection.
	EventRate  float64
	EventBurst int
}

type registerReq struct {
	client *Client
	done   chan bool
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log            *zap.SugaredLogger
	users          database.UserRepository
	mirror         cache.PresenceMirror
	stats          stats.StatsProvider
	presence       *presence
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	registerChan   chan *registerReq
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
	messages       MessageHandler
	calls          CallHandler
	eventRate      rate.Limit
	eventBurst     int
	now            func() time.Time
}

func NewChatServer(logger *zap.SugaredLogger, users database.UserRepository, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if users == nil {
		return nil, errors.New("user repository is required")
	}
	if su == nil {
		su = stats.NoopStats{}
	}

	eventRate := rate.Limit(opts.EventRate)
	if opts.EventRate <= 0 {
		eventRate = defaultEventRate
	}
	eventBurst := opts.EventBurst
	if eventBurst <= 0 {
		eventBurst = defaultEventBurst
	}

	return &ChatServer{
		log:            logger,
		users:          users,
		mirror:         opts.Mirror,
		stats:          su,
		presence:       newPresence(),
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *registerReq),
		deRegisterChan: make(chan *Client, 64),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
		eventRate:      eventRate,
		eventBurst:     eventBurst,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetHandlers wires the messaging and signaling components, which need
// the server as their notifier and so are built after it.
func (cs *ChatServer) SetHandlers(messages MessageHandler, calls CallHandler) {
	cs.messages = messages
	cs.calls = calls
}

func (cs *ChatServer) Run() {
	for {
		select {
		case req := <-cs.registerChan:
			req.done <- cs.register(req.client)
		case c := <-cs.deRegisterChan:
			cs.unregister(c)
		case req := <-cs.stop:
			cs.log.Info("shutting down chat server")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			cs.markAllOffline()

			close(cs.done)
			close(req.done)
			return
		}
	}
}

// RegisterClient tracks a newly upgraded connection. The client becomes
// reachable by user id only after its setup event.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	cs.clients[c] = struct{}{}
	cs.clientsLock.Unlock()

	cs.stats.Incr(stats.ActiveConnections)
	cs.log.Debugw("connection opened", "user_id", c.user.Id)
}

// requestRegister asks the run loop to put c into the presence registry
// and waits for the answer.
func (cs *ChatServer) requestRegister(c *Client) bool {
	req := &registerReq{client: c, done: make(chan bool, 1)}
	select {
	case cs.registerChan <- req:
	case <-cs.done:
		return false
	}

	select {
	case ok := <-req.done:
		return ok
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) requestDeregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) register(c *Client) bool {
	first, added := cs.presence.add(c)
	if !added {
		return true
	}

	cs.log.Infow("user connected", "user_id", c.user.Id, "first_connection", first)
	if first {
		cs.stats.Incr(stats.OnlineUsers)
		cs.setPresence(c.user.Id, true)
	}
	return true
}

func (cs *ChatServer) unregister(c *Client) {
	cs.clientsLock.Lock()
	_, tracked := cs.clients[c]
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	if tracked {
		cs.stats.Decr(stats.ActiveConnections)
	}

	last, removed := cs.presence.remove(c)
	if !removed {
		return
	}

	cs.log.Infow("user disconnected", "user_id", c.user.Id, "last_connection", last)
	if !last {
		return
	}

	cs.stats.Decr(stats.OnlineUsers)
	cs.setPresence(c.user.Id, false)
	if cs.calls != nil {
		if n := cs.calls.EndAllFor(c.user.Id); n > 0 {
			cs.log.Infow("ended calls of disconnected user", "user_id", c.user.Id, "calls", n)
		}
	}
}

func (cs *ChatServer) setPresence(userId string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	at := cs.now()
	if err := cs.users.SetOnline(ctx, userId, online, at); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			cs.log.Debugw("presence for unknown user not stored", "user_id", userId)
		} else {
			cs.log.Errorw("failed to store presence", "user_id", userId, "online", online, "error", err)
		}
	}

	if cs.mirror != nil {
		if err := cs.mirror.SetPresence(ctx, userId, online, at); err != nil {
			cs.log.Warnw("failed to mirror presence", "user_id", userId, "error", err)
		}
	}
}

func (cs *ChatServer) markAllOffline() {
	for _, userId := range cs.presence.onlineUsers() {
		cs.setPresence(userId, false)
	}
}

// IsOnline reports whether userId has at least one registered connection.
func (cs *ChatServer) IsOnline(userId string) bool {
	return cs.presence.isOnline(userId)
}

// EmitToUser pushes an event to every connection of userId and returns
// the number of connections it was queued on.
func (cs *ChatServer) EmitToUser(userId, event string, payload any) int {
	msg := NewEvent(event, payload)
	n := 0
	for _, c := range cs.presence.lookup(userId) {
		if c.queueMessage(msg) {
			n++
		}
	}
	return n
}

// EmitToRoom pushes an event to every member of roomId except the
// connections of skipUserId.
func (cs *ChatServer) EmitToRoom(roomId, event string, payload any, skipUserId string) int {
	msg := NewEvent(event, payload)
	n := 0
	for _, c := range cs.presence.roomMembers(roomId) {
		if skipUserId != "" && c.user.Id == skipUserId {
			continue
		}
		if c.queueMessage(msg) {
			n++
		}
	}
	return n
}

// Shutdown disconnects every client and stops the run loop.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
