package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopphones/loop/internal/model"
)

// DevnetRecorder simulates a ledger for development and demos. Addresses
// and signatures are derived deterministically from the inputs so repeated
// runs and tests see stable receipts.
type DevnetRecorder struct {
	network string
	logger  *slog.Logger
}

// NewDevnetRecorder creates a simulated recorder. Network defaults to
// "devnet" when empty.
func NewDevnetRecorder(network string, logger *slog.Logger) *DevnetRecorder {
	if network == "" {
		network = "devnet"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DevnetRecorder{network: network, logger: logger}
}

// MintPassport derives a stable mint address and signature from the device
// identity.
func (r *DevnetRecorder) MintPassport(_ context.Context, deviceID, ownerAddress string, _ map[string]any) (Receipt, error) {
	prefix := deviceID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	mint := fmt.Sprintf("NFT%s%04d", prefix, digest(deviceID)%10000)
	sig := fmt.Sprintf("sig_%06d", digest(deviceID+ownerAddress)%1000000)

	r.logger.Info("ledger: passport minted", "device_id", deviceID, "mint_address", mint, "network", r.network)

	return Receipt{
		MintAddress:          mint,
		TransactionSignature: sig,
		Network:              r.network,
		ExplorerURL:          r.explorerURL(sig),
		Timestamp:            time.Now().UTC(),
	}, nil
}

// RecordEvent derives a stable event signature from the mint address and
// event type.
func (r *DevnetRecorder) RecordEvent(_ context.Context, mintAddress string, eventType model.EventType, _ map[string]any) (Receipt, error) {
	sig := fmt.Sprintf("sig_event_%06d", digest(mintAddress+string(eventType))%1000000)

	r.logger.Info("ledger: event recorded", "mint_address", mintAddress, "event_type", eventType, "network", r.network)

	return Receipt{
		MintAddress:          mintAddress,
		TransactionSignature: sig,
		Network:              r.network,
		ExplorerURL:          r.explorerURL(sig),
		Timestamp:            time.Now().UTC(),
	}, nil
}

func (r *DevnetRecorder) explorerURL(sig string) string {
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", sig, r.network)
}

func digest(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}
