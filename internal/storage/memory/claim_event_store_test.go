package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
	"dtp-claims/internal/storage"
)

var (
	issuerA  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	subjectB = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	subjectC = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

func makeEvent(block uint64, txIndex, logIndex uint, subject common.Address) *domain.PublishedClaimEvent {
	txID := new(big.Int).SetUint64(block*1000 + uint64(txIndex))
	return &domain.PublishedClaimEvent{
		ChainID:  1337,
		Registry: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		Claim: domain.Claim{
			TypeID:  domain.TypeTrust1,
			Issuer:  domain.IssuedBy(issuerA),
			Subject: subject,
			Value:   "1",
			Scope:   domain.ScopeContract,
			Context: domain.ChainContext(1337),
		},
		Provenance: domain.Provenance{
			BlockNumber: block,
			TxHash:      common.BigToHash(txID),
			TxIndex:     txIndex,
			LogIndex:    logIndex,
		},
	}
}

func TestClaimEventStore_InsertAndRange(t *testing.T) {
	store := NewClaimEventStore()
	ctx := context.Background()

	// Inserted out of ledger order
	events := []*domain.PublishedClaimEvent{
		makeEvent(12, 0, 3, subjectB),
		makeEvent(10, 1, 1, subjectB),
		makeEvent(10, 0, 0, subjectC),
		makeEvent(15, 0, 0, subjectC),
	}
	for _, e := range events {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetByBlockRange(ctx, 1337, 10, 12)
	if err != nil {
		t.Fatalf("GetByBlockRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].BlockNumber != 10 || got[0].TxIndex != 0 {
		t.Errorf("first event: got block %d tx %d, want block 10 tx 0", got[0].BlockNumber, got[0].TxIndex)
	}
	if got[2].BlockNumber != 12 {
		t.Errorf("last event block: got %d, want 12", got[2].BlockNumber)
	}

	other, err := store.GetByBlockRange(ctx, 1, 0, 100)
	if err != nil {
		t.Fatalf("GetByBlockRange failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no events for another chain, got %d", len(other))
	}
}

func TestClaimEventStore_DuplicateKey(t *testing.T) {
	store := NewClaimEventStore()
	ctx := context.Background()

	e := makeEvent(10, 0, 0, subjectB)
	if err := store.Insert(ctx, e); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, e)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestClaimEventStore_InsertBulkAtomic(t *testing.T) {
	store := NewClaimEventStore()
	ctx := context.Background()

	if err := store.Insert(ctx, makeEvent(10, 0, 0, subjectB)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.PublishedClaimEvent{
		makeEvent(11, 0, 0, subjectB),
		makeEvent(10, 0, 0, subjectB),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetByBlockRange(ctx, 1337, 0, 100)
	if len(got) != 1 {
		t.Errorf("batch should be rejected entirely, store has %d events", len(got))
	}

	// Intra-batch duplicates
	err = store.InsertBulk(ctx, []*domain.PublishedClaimEvent{
		makeEvent(20, 0, 0, subjectB),
		makeEvent(20, 0, 0, subjectB),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey for intra-batch duplicate, got %v", err)
	}

	if err := store.InsertBulk(ctx, nil); err != nil {
		t.Errorf("empty batch should succeed, got %v", err)
	}
}

func TestClaimEventStore_BySubjectAndIssuer(t *testing.T) {
	store := NewClaimEventStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.PublishedClaimEvent{
		makeEvent(10, 0, 0, subjectB),
		makeEvent(11, 0, 0, subjectC),
		makeEvent(9, 0, 0, subjectB),
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	bySubject, err := store.GetBySubject(ctx, 1337, subjectB)
	if err != nil {
		t.Fatalf("GetBySubject failed: %v", err)
	}
	if len(bySubject) != 2 || bySubject[0].BlockNumber != 9 {
		t.Errorf("GetBySubject: got %d events, want 2 starting at block 9", len(bySubject))
	}

	byIssuer, err := store.GetByIssuer(ctx, 1337, issuerA)
	if err != nil {
		t.Fatalf("GetByIssuer failed: %v", err)
	}
	if len(byIssuer) != 3 {
		t.Errorf("GetByIssuer: got %d events, want 3", len(byIssuer))
	}
}

func TestClaimEventStore_ReturnsCopies(t *testing.T) {
	store := NewClaimEventStore()
	ctx := context.Background()

	e := makeEvent(10, 0, 0, subjectB)
	if err := store.Insert(ctx, e); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	e.Claim.Value = "mutated"

	got, _ := store.GetByBlockRange(ctx, 1337, 10, 10)
	if got[0].Claim.Value != "1" {
		t.Errorf("stored event changed with caller's copy: %q", got[0].Claim.Value)
	}
}
