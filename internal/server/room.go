package server

// room is a set of client connections addressed by one id. Every user
// has a room named after its user id holding all of its connections;
// conversation rooms are joined explicitly. Callers hold the presence
// lock.
type room struct {
	id      string
	clients map[*Client]struct{}
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		clients: make(map[*Client]struct{}),
	}
}

// add reports whether c was not already in the room.
func (r *room) add(c *Client) bool {
	if _, ok := r.clients[c]; ok {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// remove reports whether c was in the room.
func (r *room) remove(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return true
}

func (r *room) has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

func (r *room) empty() bool {
	return len(r.clients) == 0
}

func (r *room) members() []*Client {
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}
