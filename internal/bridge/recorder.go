package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/radiolink/internal/radio"
)

// SightingRecorder keeps an audit trail of every peer the gateway has heard
// from in the radio_peer_sightings table. The table is write-only from the
// gateway's point of view: the peer registry is never loaded from it.
//
// Thread Safety: All methods are safe for concurrent use.
type SightingRecorder struct {
	db     *sql.DB
	logger Logger

	upsertStmt *sql.Stmt
	peerStmt   *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// Sighting is one row of radio_peer_sightings.
type Sighting struct {
	Address64    radio.Address64 `json:"address64"`
	Address16    radio.Address16 `json:"address16"`
	NodeID       string          `json:"node_id,omitempty"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastSeen     time.Time       `json:"last_seen"`
	MessageCount int64           `json:"message_count"`
	LastRSSI     *int            `json:"last_rssi,omitempty"`
}

// NewSightingRecorder creates a recorder on a migrated database.
func NewSightingRecorder(db *sql.DB) *SightingRecorder {
	return &SightingRecorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *SightingRecorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Must be called before Record.
func (r *SightingRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	upsert, err := r.db.Prepare(`
		INSERT INTO radio_peer_sightings
			(address64, address16, node_id, first_seen, last_seen, message_count, last_rssi)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(address64) DO UPDATE SET
			address16 = CASE WHEN excluded.address16 != 'FFFE' THEN excluded.address16 ELSE address16 END,
			node_id = CASE WHEN excluded.node_id != '' THEN excluded.node_id ELSE node_id END,
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			last_rssi = COALESCE(excluded.last_rssi, last_rssi)
	`)
	if err != nil {
		return fmt.Errorf("preparing sighting upsert statement: %w", err)
	}

	peer, err := r.db.Prepare(`
		INSERT INTO radio_peer_sightings
			(address64, address16, node_id, first_seen, last_seen, message_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(address64) DO UPDATE SET
			address16 = CASE WHEN excluded.address16 != 'FFFE' THEN excluded.address16 ELSE address16 END,
			node_id = CASE WHEN excluded.node_id != '' THEN excluded.node_id ELSE node_id END,
			last_seen = MAX(last_seen, excluded.last_seen)
	`)
	if err != nil {
		upsert.Close()
		return fmt.Errorf("preparing peer upsert statement: %w", err)
	}

	r.upsertStmt = upsert
	r.peerStmt = peer
	r.log("sighting recorder started")
	return nil
}

// Stop closes the recorder and releases the prepared statements.
func (r *SightingRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
	}
	if r.peerStmt != nil {
		r.peerStmt.Close()
		r.peerStmt = nil
	}
}

// RecordMessage counts a received payload against its sender.
// Senders without a known 64-bit address are not recorded.
func (r *SightingRecorder) RecordMessage(msg radio.Message) {
	stmt := r.stmt(func() *sql.Stmt { return r.upsertStmt })
	if stmt == nil {
		return
	}

	addr64, addr16, nodeID := msg.Source64, msg.Source16, ""
	if msg.Peer != nil {
		info := msg.Peer.Info()
		if !addr64.IsKnown() {
			addr64 = info.Address64
		}
		nodeID = info.NodeID
	}
	if !addr64.IsKnown() {
		return
	}

	seen := msg.ReceivedAt
	if seen.IsZero() {
		seen = time.Now()
	}
	var rssi any
	if msg.RSSI != 0 {
		rssi = msg.RSSI
	}

	if _, err := stmt.Exec(addr64.String(), addr16.String(), nodeID, seen.Unix(), seen.Unix(), rssi); err != nil {
		r.logError("recording sighting", err)
	}
}

// RecordPeer stores registry information about a peer without counting a
// message. Discovery results arrive this way.
func (r *SightingRecorder) RecordPeer(info radio.PeerInfo, seen time.Time) {
	stmt := r.stmt(func() *sql.Stmt { return r.peerStmt })
	if stmt == nil || !info.Address64.IsKnown() {
		return
	}

	if _, err := stmt.Exec(info.Address64.String(), info.Address16.String(), info.NodeID, seen.Unix(), seen.Unix()); err != nil {
		r.logError("recording peer", err)
	}
}

func (r *SightingRecorder) stmt(pick func() *sql.Stmt) *sql.Stmt {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil
	}

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	return pick()
}

// Sightings returns every recorded peer, most recently seen first.
func (r *SightingRecorder) Sightings(ctx context.Context) ([]Sighting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address64, address16, node_id, first_seen, last_seen, message_count, last_rssi
		FROM radio_peer_sightings
		ORDER BY last_seen DESC, address64 ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var (
			a64, a16    string
			s           Sighting
			first, last int64
			rssi        sql.NullInt64
		)
		if err := rows.Scan(&a64, &a16, &s.NodeID, &first, &last, &s.MessageCount, &rssi); err != nil {
			return nil, err
		}
		if s.Address64, err = radio.ParseAddress64(a64); err != nil {
			return nil, fmt.Errorf("sighting %q: %w", a64, err)
		}
		if s.Address16, err = radio.ParseAddress16(a16); err != nil {
			return nil, fmt.Errorf("sighting %q: %w", a64, err)
		}
		s.FirstSeen = time.Unix(first, 0).UTC()
		s.LastSeen = time.Unix(last, 0).UTC()
		if rssi.Valid {
			v := int(rssi.Int64)
			s.LastRSSI = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SightingCount returns the number of recorded peers.
func (r *SightingRecorder) SightingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM radio_peer_sightings`).Scan(&count)
	return count, err
}

func (r *SightingRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *SightingRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
