package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-verify-ledger/internal/domain"
)

type ledgerClient interface {
	dynamodb.ScanAPIClient
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// LedgerRepo stores the ledger in a DynamoDB table, one item per identity.
// PK: identity
type LedgerRepo struct {
	client    ledgerClient
	tableName string
	now       func() time.Time
}

func NewLedgerRepo(client ledgerClient, tableName string) *LedgerRepo {
	return &LedgerRepo{client: client, tableName: tableName, now: time.Now}
}

// Load reads the whole table. It never fails: scan errors yield an empty
// ledger and LoadUnreadable. Malformed and expired items are removed from the
// table before returning.
func (r *LedgerRepo) Load(ctx context.Context) (*domain.Ledger, domain.LoadStatus) {
	items, err := r.scan(ctx)
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return domain.NewLedger(), domain.LoadMissing
		}
		slog.Warn("could not scan ledger table, treating as empty", "table", r.tableName, "err", err)
		return domain.NewLedger(), domain.LoadUnreadable
	}

	led := domain.NewLedger()
	malformed := 0
	for _, it := range items {
		rec, ok := it.record()
		if !ok {
			malformed++
			continue
		}
		led.Put(rec)
	}
	status := domain.LoadOK
	if malformed > 0 {
		slog.Warn("dropped malformed ledger items", "table", r.tableName, "count", malformed)
		status = domain.LoadRepaired
	}

	if expired := led.Prune(r.now()); expired+malformed > 0 {
		if err := r.write(ctx, items, led); err != nil {
			slog.Error("could not write pruned ledger", "table", r.tableName, "err", err)
		}
	}
	return led, status
}

// Save makes the table match led. Expired and malformed items still in the
// table are swept in batches first; the remaining changes go in one
// transaction.
func (r *LedgerRepo) Save(ctx context.Context, led *domain.Ledger) error {
	items, err := r.scan(ctx)
	if err != nil {
		return fmt.Errorf("scan ledger table: %w", err)
	}
	return r.write(ctx, items, led)
}

func (r *LedgerRepo) write(ctx context.Context, current []ledgerItem, led *domain.Ledger) error {
	plan := planLedgerWrites(current, led)
	var stale []string
	stale, plan.Deletes = splitStale(current, plan.Deletes, r.now())
	r.sweep(ctx, stale)
	if plan.Len() == 0 {
		return nil
	}
	if plan.Len() > maxTransactItems {
		return fmt.Errorf("%d ledger changes exceed one transaction: %w", plan.Len(), domain.ErrPersistence)
	}

	actions := make([]types.TransactWriteItem, 0, plan.Len())
	for _, it := range plan.Puts {
		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			return fmt.Errorf("marshal ledger item: %w", err)
		}
		actions = append(actions, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(r.tableName), Item: av},
		})
	}
	for _, identity := range plan.Deletes {
		actions = append(actions, types.TransactWriteItem{
			Delete: &types.Delete{TableName: aws.String(r.tableName), Key: strKey(fieldIdentity, identity)},
		})
	}

	if _, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: actions}); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// sweep deletes stale items with BatchWriteItem. Deletes are idempotent, so a
// failed batch is logged and left for the next write or the table TTL.
func (r *LedgerRepo) sweep(ctx context.Context, identities []string) {
	for start := 0; start < len(identities); start += maxBatchItems {
		end := min(start+maxBatchItems, len(identities))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, identity := range identities[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: strKey(fieldIdentity, identity)},
			})
		}
		pending := map[string][]types.WriteRequest{r.tableName: reqs}
		for attempt := 0; len(pending[r.tableName]) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				slog.Warn("stale ledger items left for a later sweep", "table", r.tableName, "count", len(pending[r.tableName]))
				break
			}
			out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				slog.Warn("could not sweep stale ledger items", "table", r.tableName, "count", len(pending[r.tableName]), "err", err)
				break
			}
			pending = out.UnprocessedItems
		}
	}
}

// scan returns every item ordered by Seq. Items that do not unmarshal are
// returned with only their identity so the next write deletes them.
func (r *LedgerRepo) scan(ctx context.Context) ([]ledgerItem, error) {
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
	})
	var items []ledgerItem
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			var it ledgerItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				it = ledgerItem{}
				if s, ok := raw[fieldIdentity].(*types.AttributeValueMemberS); ok {
					it.Identity = s.Value
				}
			}
			items = append(items, it)
		}
	}
	sortItems(items)
	return items, nil
}
