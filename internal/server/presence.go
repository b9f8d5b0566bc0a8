package server

import "sync"

// presence maps users to their live connections and rooms to their
// members. A user can be connected from several devices at once. Only
// the ChatServer run loop adds or removes users; room joins and all
// lookups may happen from any goroutine.
type presence struct {
	mu    sync.RWMutex
	users map[string]*room
	rooms map[string]*room
	// joined tracks the rooms of each client for cleanup.
	joined map[*Client]map[string]struct{}
}

func newPresence() *presence {
	return &presence{
		users:  make(map[string]*room),
		rooms:  make(map[string]*room),
		joined: make(map[*Client]map[string]struct{}),
	}
}

// add registers c under its user id and joins the user room. It reports
// whether c is the user's first connection. Adding a client twice is a
// no-op.
func (p *presence) add(c *Client) (first, added bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[c.user.Id]
	if !ok {
		u = newRoom(c.user.Id)
		p.users[c.user.Id] = u
	}
	if !u.add(c) {
		return false, false
	}

	p.joinLocked(c.user.Id, c)
	return len(u.clients) == 1, true
}

// remove drops c and all of its room memberships. It reports whether c
// was the user's last connection and whether c was registered at all.
func (p *presence) remove(c *Client) (last, removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.joined[c] {
		if r, ok := p.rooms[id]; ok {
			r.remove(c)
			if r.empty() {
				delete(p.rooms, id)
			}
		}
	}
	delete(p.joined, c)

	u, ok := p.users[c.user.Id]
	if !ok || !u.remove(c) {
		return false, false
	}
	if u.empty() {
		delete(p.users, c.user.Id)
		return true, true
	}
	return false, true
}

func (p *presence) join(roomId string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joinLocked(roomId, c)
}

func (p *presence) joinLocked(roomId string, c *Client) {
	r, ok := p.rooms[roomId]
	if !ok {
		r = newRoom(roomId)
		p.rooms[roomId] = r
	}
	r.add(c)

	if p.joined[c] == nil {
		p.joined[c] = make(map[string]struct{})
	}
	p.joined[c][roomId] = struct{}{}
}

func (p *presence) inRoom(roomId string, c *Client) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.rooms[roomId]
	return ok && r.has(c)
}

// lookup returns the live connections of userId.
func (p *presence) lookup(userId string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.users[userId]
	if !ok {
		return nil
	}
	return u.members()
}

func (p *presence) roomMembers(roomId string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.rooms[roomId]
	if !ok {
		return nil
	}
	return r.members()
}

func (p *presence) isOnline(userId string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.users[userId]
	return ok
}

func (p *presence) onlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	return out
}
