package relay

import (
	"sort"

	"github.com/google/uuid"
)

// guestPrefix marks identities assigned by the relay rather than claimed.
const guestPrefix = "g-"

// identities is the rendezvous identity table. Each connection holds at most
// one identity. It is owned by the hub goroutine and has no locking.
type identities struct {
	owners map[string]*Client
	held   map[*Client]string
}

func newIdentities() *identities {
	return &identities{
		owners: make(map[string]*Client),
		held:   make(map[*Client]string),
	}
}

// claim registers id for c. An empty id assigns a fresh guest identity.
// It returns the identity and false when another connection already owns it.
// A connection that claims a new identity gives up its previous one.
func (t *identities) claim(c *Client, id string) (string, bool) {
	if id == "" {
		id = t.freshGuestID()
	}

	if owner, ok := t.owners[id]; ok {
		return id, owner == c
	}

	t.release(c)
	t.owners[id] = c
	t.held[c] = id
	return id, true
}

// release frees the identity held by c, if any, and returns it.
func (t *identities) release(c *Client) string {
	id, ok := t.held[c]
	if !ok {
		return ""
	}
	delete(t.held, c)
	delete(t.owners, id)
	return id
}

func (t *identities) list() []string {
	out := make([]string, 0, len(t.owners))
	for id := range t.owners {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *identities) freshGuestID() string {
	for {
		id := guestPrefix + uuid.NewString()[:8]
		if _, taken := t.owners[id]; !taken {
			return id
		}
	}
}
