package domain

import (
	"fmt"
	"strings"
	"time"
)

// LoadStatus says why a loaded ledger looks the way it does, so an empty
// ledger from a healthy store can be told apart from one that was unreadable.
type LoadStatus int

const (
	LoadOK LoadStatus = iota
	// LoadMissing: nothing persisted yet.
	LoadMissing
	// LoadUnreadable: storage failed or held a corrupt structure; treated as empty.
	LoadUnreadable
	// LoadRepaired: malformed entries were dropped and the rest kept.
	LoadRepaired
)

func (s LoadStatus) String() string {
	switch s {
	case LoadOK:
		return "ok"
	case LoadMissing:
		return "missing"
	case LoadUnreadable:
		return "unreadable"
	case LoadRepaired:
		return "repaired"
	}
	return "unknown"
}

// Ledger maps identity to VerificationRecord and remembers insertion order.
// It is not safe for concurrent use.
type Ledger struct {
	order   []string
	records map[string]*VerificationRecord
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]*VerificationRecord)}
}

func (l *Ledger) Len() int { return len(l.order) }

// Get returns the stored record for identity. Mutations through the pointer
// are visible to the ledger.
func (l *Ledger) Get(identity string) (*VerificationRecord, bool) {
	rec, ok := l.records[identity]
	return rec, ok
}

// Put inserts rec, or replaces the record with the same identity in place.
func (l *Ledger) Put(rec VerificationRecord) {
	if rec.State == "" {
		rec.State = DeliveryPending
	}
	if _, ok := l.records[rec.Identity]; !ok {
		l.order = append(l.order, rec.Identity)
	}
	l.records[rec.Identity] = &rec
}

// Delete removes identity and reports whether it was present.
func (l *Ledger) Delete(identity string) bool {
	if _, ok := l.records[identity]; !ok {
		return false
	}
	delete(l.records, identity)
	for i, id := range l.order {
		if id == identity {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// Records returns copies of all records in insertion order.
func (l *Ledger) Records() []VerificationRecord {
	out := make([]VerificationRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.records[id])
	}
	return out
}

func (l *Ledger) Clone() *Ledger {
	c := NewLedger()
	for _, rec := range l.Records() {
		c.Put(rec)
	}
	return c
}

// Prune drops every record that is no longer live at now and returns how many were dropped.
func (l *Ledger) Prune(now time.Time) int {
	dropped := 0
	for _, rec := range l.Records() {
		if !IsLive(rec, now) {
			l.Delete(rec.Identity)
			dropped++
		}
	}
	return dropped
}

// MatchPolicy decides whether a code is bound to the handle it was issued for.
type MatchPolicy int

const (
	// MatchHandleBound requires the requester handle to equal the record
	// handle. A record without a handle can never be redeemed.
	MatchHandleBound MatchPolicy = iota
	// MatchCodeOnly accepts any live record holding the code, whoever
	// presents it. Legacy deployments run this way.
	MatchCodeOnly
)

func (p MatchPolicy) String() string {
	if p == MatchCodeOnly {
		return "code_only"
	}
	return "handle_bound"
}

// ParseMatchPolicy reads a policy name. Empty means MatchHandleBound.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "handle_bound":
		return MatchHandleBound, nil
	case "code_only":
		return MatchCodeOnly, nil
	}
	return MatchHandleBound, fmt.Errorf("unknown match policy %q: %w", s, ErrBadRequest)
}

// Match resolves a presented code to the identity of a live record. Codes
// compare case-insensitively and the first record in insertion order wins.
func (l *Ledger) Match(code, requesterHandle string, policy MatchPolicy, now time.Time) (string, bool) {
	code = strings.TrimSpace(code)
	handle := NormalizeHandle(requesterHandle)
	if code == "" || (policy == MatchHandleBound && handle == "") {
		return "", false
	}
	for _, id := range l.order {
		rec := l.records[id]
		if !IsLive(*rec, now) || !strings.EqualFold(rec.Code, code) {
			continue
		}
		if policy == MatchHandleBound && NormalizeHandle(rec.Handle) != handle {
			continue
		}
		return rec.Identity, true
	}
	return "", false
}

// HasCode reports whether any live record already uses code.
func (l *Ledger) HasCode(code string, now time.Time) bool {
	for _, id := range l.order {
		rec := l.records[id]
		if IsLive(*rec, now) && strings.EqualFold(rec.Code, code) {
			return true
		}
	}
	return false
}
