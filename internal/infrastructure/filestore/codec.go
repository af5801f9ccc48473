package filestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-verify-ledger/internal/domain"
)

// ledgerEntry is the on-disk shape of one record. Both delivery flags false
// means pending.
type ledgerEntry struct {
	Code        *string  `json:"code"`
	Timestamp   *float64 `json:"timestamp"`
	DiscordTag  string   `json:"discord_tag,omitempty"`
	DMSent      bool     `json:"dm_sent"`
	DMAttempted bool     `json:"dm_attempted"`
}

var errNotObject = errors.New("ledger is not a JSON object")

// decodeLedger parses the ledger file, preserving key order. Entries that are
// not well-formed records are skipped and counted; a structurally invalid
// document is an error.
func decodeLedger(data []byte) (*domain.Ledger, int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, 0, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, 0, errNotObject
	}

	led := domain.NewLedger()
	dropped := 0
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, 0, err
		}
		identity, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, 0, err
		}
		rec, err := decodeEntry(identity, raw)
		if err != nil {
			dropped++
			continue
		}
		led.Put(rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, 0, err
	}
	return led, dropped, nil
}

func decodeEntry(identity string, raw json.RawMessage) (domain.VerificationRecord, error) {
	var e ledgerEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.VerificationRecord{}, err
	}
	if identity == "" || e.Code == nil || e.Timestamp == nil {
		return domain.VerificationRecord{}, fmt.Errorf("entry %q is missing code or timestamp", identity)
	}
	state := domain.DeliveryPending
	switch {
	case e.DMSent:
		state = domain.DeliveryDelivered
	case e.DMAttempted:
		state = domain.DeliveryFailed
	}
	return domain.VerificationRecord{
		Identity: identity,
		Code:     *e.Code,
		IssuedAt: fromEpoch(*e.Timestamp),
		Handle:   e.DiscordTag,
		State:    state,
	}, nil
}

// encodeLedger writes the ledger as an indented JSON object in insertion order.
func encodeLedger(led *domain.Ledger) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, rec := range led.Records() {
		if i > 0 {
			buf.WriteString(",")
		}
		key, err := json.Marshal(rec.Identity)
		if err != nil {
			return nil, err
		}
		code := rec.Code
		ts := toEpoch(rec.IssuedAt)
		val, err := json.MarshalIndent(ledgerEntry{
			Code:        &code,
			Timestamp:   &ts,
			DiscordTag:  rec.Handle,
			DMSent:      rec.State == domain.DeliveryDelivered,
			DMAttempted: rec.State == domain.DeliveryFailed,
		}, "  ", "  ")
		if err != nil {
			return nil, err
		}
		buf.WriteString("\n  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
	}
	if led.Len() > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// Timestamps are epoch seconds with microsecond precision.
func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromEpoch(ts float64) time.Time {
	return time.UnixMicro(int64(math.Round(ts * 1e6))).UTC()
}
