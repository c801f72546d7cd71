// Package clientmgr implements the server's Client and ClientMap/ClientIdMap
// bookkeeping from spec section 3: one Client per accepted connection, plus
// a reverse index from every live source connection ID to its owning
// client, maintained as CIDs are issued and retired.
package clientmgr

import (
	"github.com/quicperfio/quicperf/internal/engine"
	"github.com/quicperfio/quicperf/internal/protocol"
	"github.com/quicperfio/quicperf/internal/scheduler"
)

// ClientID identifies one accepted connection, allocated sequentially by the
// server (spec section 3: "allocate a fresh ClientId").
type ClientID uint64

// Client holds everything the server tracks per accepted connection.
type Client struct {
	ID              ClientID
	Conn            engine.Connection
	Proto           *protocol.ServerState // nil until ALPN is selected
	Sched           scheduler.Scheduler   // lazily built on first send pass
	MaxDatagramSize int
	MaxSendBurst    int

	// cidsBySeq maps each live source CID's sequence number to its wire ID,
	// so a RetiredSourceCIDs() sequence number (engine.Connection's only
	// handle on a retired CID) can be resolved back to the byte identifier
	// ClientMap's reverse index is keyed on.
	cidsBySeq map[uint64][]byte
}

// Map owns every live Client plus the SCID -> ClientID reverse index. It is
// not safe for concurrent use; the server driver is single-threaded.
type Map struct {
	clients  map[ClientID]*Client
	byCID    map[string]ClientID
	nextID   ClientID
}

func New() *Map {
	return &Map{
		clients: make(map[ClientID]*Client),
		byCID:   make(map[string]ClientID),
	}
}

// Insert registers a new client under a freshly allocated ID, indexed by its
// initial SCID.
func (m *Map) Insert(conn engine.Connection, scid []byte, maxDatagramSize int) *Client {
	m.nextID++
	c := &Client{ID: m.nextID, Conn: conn, MaxDatagramSize: maxDatagramSize}
	m.clients[c.ID] = c
	m.byCID[string(scid)] = c.ID
	return c
}

// BindCID indexes an additional SCID (issued after connection establishment,
// via NewSourceCID) to an existing client.
func (m *Map) BindCID(id ClientID, scid []byte) {
	m.byCID[string(scid)] = id
}

// RememberCID records the wire ID behind a newly issued SCID's sequence
// number, so a later RetiredSourceCIDs() seq can be resolved back to it.
func (c *Client) RememberCID(seq uint64, scid []byte) {
	if c.cidsBySeq == nil {
		c.cidsBySeq = make(map[uint64][]byte)
	}
	c.cidsBySeq[seq] = append([]byte(nil), scid...)
}

// ForgetCID removes and returns the wire ID recorded under seq, if any.
func (c *Client) ForgetCID(seq uint64) ([]byte, bool) {
	id, ok := c.cidsBySeq[seq]
	if ok {
		delete(c.cidsBySeq, seq)
	}
	return id, ok
}

// RetireCID removes one SCID from the reverse index, e.g. on
// RetiredSourceCIDs drain.
func (m *Map) RetireCID(scid []byte) {
	delete(m.byCID, string(scid))
}

// Lookup resolves a client by one of its live SCIDs.
func (m *Map) Lookup(scid []byte) (*Client, bool) {
	id, ok := m.byCID[string(scid)]
	if !ok {
		return nil, false
	}
	c, ok := m.clients[id]
	return c, ok
}

// Remove evicts a client and every SCID that pointed to it -- spec section
// 8's invariant: "Removing a ClientId removes every SCID pointing to it."
func (m *Map) Remove(id ClientID) {
	delete(m.clients, id)
	for cid, owner := range m.byCID {
		if owner == id {
			delete(m.byCID, cid)
		}
	}
}

// All returns every live client, for the send/GC passes to iterate.
func (m *Map) All() []*Client {
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

func (m *Map) Len() int { return len(m.clients) }

// CIDCount reports the total number of SCIDs indexed across every client --
// used by the testable-invariant in spec section 8.
func (m *Map) CIDCount() int { return len(m.byCID) }
