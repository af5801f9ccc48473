package dynamo

import (
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-verify-ledger/internal/domain"
)

// strKey builds a DynamoDB primary key map with a single string attribute.
func strKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

// ledgerItem is one ledger record as stored in the table. Seq preserves the
// ledger's insertion order, which a table scan does not.
type ledgerItem struct {
	Identity    string `dynamodbav:"identity"`
	Code        string `dynamodbav:"code"`
	IssuedAtUS  int64  `dynamodbav:"issued_at_us"`
	DiscordTag  string `dynamodbav:"discord_tag,omitempty"`
	DMSent      bool   `dynamodbav:"dm_sent"`
	DMAttempted bool   `dynamodbav:"dm_attempted"`
	Seq         int64  `dynamodbav:"seq"`
	ExpiresAt   int64  `dynamodbav:"expires_at"`
}

func itemFromRecord(rec domain.VerificationRecord, seq int64) ledgerItem {
	return ledgerItem{
		Identity:    rec.Identity,
		Code:        rec.Code,
		IssuedAtUS:  rec.IssuedAt.UnixMicro(),
		DiscordTag:  rec.Handle,
		DMSent:      rec.State == domain.DeliveryDelivered,
		DMAttempted: rec.State == domain.DeliveryFailed,
		Seq:         seq,
		ExpiresAt:   rec.IssuedAt.Add(domain.RetentionHorizon).Unix(),
	}
}

// record converts the item back. ok is false for items missing a key, code
// or timestamp.
func (it ledgerItem) record() (domain.VerificationRecord, bool) {
	if strings.TrimSpace(it.Identity) == "" || it.Code == "" || it.IssuedAtUS == 0 {
		return domain.VerificationRecord{}, false
	}
	state := domain.DeliveryPending
	switch {
	case it.DMSent:
		state = domain.DeliveryDelivered
	case it.DMAttempted:
		state = domain.DeliveryFailed
	}
	return domain.VerificationRecord{
		Identity: it.Identity,
		Code:     it.Code,
		IssuedAt: time.UnixMicro(it.IssuedAtUS).UTC(),
		Handle:   it.DiscordTag,
		State:    state,
	}, true
}

func sortItems(items []ledgerItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Seq != items[j].Seq {
			return items[i].Seq < items[j].Seq
		}
		return items[i].Identity < items[j].Identity
	})
}

type writePlan struct {
	Puts    []ledgerItem
	Deletes []string
}

func (p writePlan) Len() int { return len(p.Puts) + len(p.Deletes) }

// planLedgerWrites diffs the table contents against led. Unchanged items are
// left alone; existing items keep their Seq and new ones are appended after
// the highest Seq in the table.
func planLedgerWrites(current []ledgerItem, led *domain.Ledger) writePlan {
	byID := make(map[string]ledgerItem, len(current))
	var maxSeq int64
	for _, it := range current {
		byID[it.Identity] = it
		if it.Seq > maxSeq {
			maxSeq = it.Seq
		}
	}

	var plan writePlan
	keep := make(map[string]bool, led.Len())
	for _, rec := range led.Records() {
		keep[rec.Identity] = true
		cur, exists := byID[rec.Identity]
		seq := cur.Seq
		if !exists {
			maxSeq++
			seq = maxSeq
		}
		want := itemFromRecord(rec, seq)
		if exists && want == cur {
			continue
		}
		plan.Puts = append(plan.Puts, want)
	}
	for _, it := range current {
		if it.Identity != "" && !keep[it.Identity] {
			plan.Deletes = append(plan.Deletes, it.Identity)
		}
	}
	return plan
}

// splitStale separates deletes of items that are expired at now or do not
// decode from deletes the caller asked for.
func splitStale(current []ledgerItem, deletes []string, now time.Time) (stale, rest []string) {
	byID := make(map[string]ledgerItem, len(current))
	for _, it := range current {
		byID[it.Identity] = it
	}
	for _, identity := range deletes {
		rec, ok := byID[identity].record()
		if !ok || !domain.IsLive(rec, now) {
			stale = append(stale, identity)
			continue
		}
		rest = append(rest, identity)
	}
	return stale, rest
}
