// Package ledger anchors digital passports to an external ledger.
//
// The core treats the ledger as an opaque collaborator: it hands over mint
// and event requests and stores the returned receipts. The devnet recorder
// is the default implementation; a real chain client slots in behind the
// same interface.
package ledger

import (
	"context"
	"time"

	"github.com/loopphones/loop/internal/model"
)

// Receipt is the ledger's acknowledgement of a mint or event record.
type Receipt struct {
	MintAddress          string    `json:"mint_address,omitempty"`
	TransactionSignature string    `json:"transaction_signature"`
	Network              string    `json:"network"`
	ExplorerURL          string    `json:"explorer_url"`
	Timestamp            time.Time `json:"timestamp"`
}

// Recorder mints passports and records lifecycle events on a ledger.
type Recorder interface {
	MintPassport(ctx context.Context, deviceID, ownerAddress string, metadata map[string]any) (Receipt, error)
	RecordEvent(ctx context.Context, mintAddress string, eventType model.EventType, payload map[string]any) (Receipt, error)
}
