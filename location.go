package tinysip

import "sync"

// LocationEntry is one provisioned subscriber and its last registered
// contact address.
type LocationEntry struct {
	Username   string
	Password   string
	IP         string
	Port       int
	Realm      string
	Registered bool
}

// LocationTable is the in-memory location service. Entries are provisioned
// up front; REGISTER only refreshes the contact address of a known user.
type LocationTable struct {
	mu      sync.Mutex
	entries []*LocationEntry
}

func NewLocationTable(entries []*LocationEntry) *LocationTable {
	return &LocationTable{entries: entries}
}

// DefaultLocations provisions the built-in subscriber set. Addresses are
// the compiled-in defaults and get overwritten on first REGISTER.
func DefaultLocations(realm string) []*LocationEntry {
	seed := []struct {
		user string
		ip   string
		port int
	}{
		{"1001", "192.168.192.1", 5060},
		{"1002", "192.168.192.1", 5070},
		{"1003", "192.168.1.103", 5060},
		{"1004", "192.168.1.104", 5060},
		{"1005", "192.168.184.1", 5060},
		{"1006", "192.168.184.1", 5070},
		{"1007", "192.168.1.4", 5060},
		{"1008", "192.168.1.4", 5070},
	}
	entries := make([]*LocationEntry, 0, len(seed))
	for _, s := range seed {
		entries = append(entries, &LocationEntry{
			Username: s.user,
			Password: "defaultpassword",
			IP:       s.ip,
			Port:     s.port,
			Realm:    realm,
		})
	}
	return entries
}

// Find returns the entry for a username, or nil when the user is not
// provisioned.
func (t *LocationTable) Find(username string) *LocationEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.Username == username {
			return e
		}
	}
	return nil
}

// Update records a fresh contact address for an entry and marks it
// registered.
func (t *LocationTable) Update(e *LocationEntry, ip string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.IP = ip
	e.Port = port
	e.Registered = true
}
