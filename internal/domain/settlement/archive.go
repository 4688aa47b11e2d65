package settlement

import "context"

// ReceiptArchive keeps a durable copy of every settlement receipt for
// reconciliation with the payment provider.
type ReceiptArchive interface {
	// Put stores the receipt and returns its object key. Storing the same
	// receipt twice is not an error.
	Put(ctx context.Context, claimNumber string, receipt *Receipt) (string, error)
}
