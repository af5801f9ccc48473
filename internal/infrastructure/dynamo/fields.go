package dynamo

import "time"

// Ledger table attribute names.
const (
	fieldIdentity  = "identity"
	fieldExpiresAt = "expires_at"
)

const tableWaitTimeout = 2 * time.Minute

// maxTransactItems is the DynamoDB limit on actions in one TransactWriteItems call.
const maxTransactItems = 100

// maxBatchItems is the DynamoDB limit on requests in one BatchWriteItem call.
const maxBatchItems = 25

const maxBatchAttempts = 3
