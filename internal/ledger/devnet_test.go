package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/loopphones/loop/internal/model"
)

func TestMintPassportDeterministic(t *testing.T) {
	r := NewDevnetRecorder("devnet", nil)
	a, err := r.MintPassport(context.Background(), "LOOP-12345", "wallet-abc", nil)
	if err != nil {
		t.Fatalf("MintPassport: %v", err)
	}
	b, err := r.MintPassport(context.Background(), "LOOP-12345", "wallet-abc", nil)
	if err != nil {
		t.Fatalf("MintPassport: %v", err)
	}
	if a.MintAddress != b.MintAddress || a.TransactionSignature != b.TransactionSignature {
		t.Errorf("receipts differ for identical inputs: %+v vs %+v", a, b)
	}
	if !strings.HasPrefix(a.MintAddress, "NFTLOOP-123") {
		t.Errorf("MintAddress = %q, want NFT + first 8 chars of device id", a.MintAddress)
	}
	if !strings.Contains(a.ExplorerURL, a.TransactionSignature) {
		t.Errorf("ExplorerURL %q does not reference signature %q", a.ExplorerURL, a.TransactionSignature)
	}
	if a.Network != "devnet" {
		t.Errorf("Network = %q", a.Network)
	}
}

func TestMintPassportDistinctDevices(t *testing.T) {
	r := NewDevnetRecorder("", nil)
	a, _ := r.MintPassport(context.Background(), "device-a", "w", nil)
	b, _ := r.MintPassport(context.Background(), "device-b", "w", nil)
	if a.MintAddress == b.MintAddress {
		t.Errorf("different devices share mint address %q", a.MintAddress)
	}
}

func TestRecordEvent(t *testing.T) {
	r := NewDevnetRecorder("devnet", nil)
	got, err := r.RecordEvent(context.Background(), "NFTabc1234", model.EventRepair, map[string]any{"shop": "berlin-01"})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if !strings.HasPrefix(got.TransactionSignature, "sig_event_") {
		t.Errorf("TransactionSignature = %q", got.TransactionSignature)
	}
	if got.MintAddress != "NFTabc1234" {
		t.Errorf("MintAddress = %q", got.MintAddress)
	}
}
