package storage

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dtp-claims/internal/domain"
)

func TestValidateEvent(t *testing.T) {
	valid := &domain.PublishedClaimEvent{
		ChainID:    1337,
		Provenance: domain.Provenance{TxHash: common.HexToHash("0x01")},
	}
	if err := ValidateEvent(valid); err != nil {
		t.Fatalf("ValidateEvent: %v", err)
	}

	tests := []struct {
		name string
		e    *domain.PublishedClaimEvent
	}{
		{"nil", nil},
		{"no chain", &domain.PublishedClaimEvent{Provenance: domain.Provenance{TxHash: common.HexToHash("0x01")}}},
		{"no tx hash", &domain.PublishedClaimEvent{ChainID: 1337}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateEvent(tt.e); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateSubmissionAndProgress(t *testing.T) {
	if err := ValidateSubmission(&domain.Submission{ChainID: 1, TxHash: common.HexToHash("0x02")}); err != nil {
		t.Errorf("ValidateSubmission: %v", err)
	}
	if err := ValidateSubmission(&domain.Submission{ChainID: 1}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing hash, got %v", err)
	}
	if err := ValidateProgress(&SyncProgress{ChainID: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for chain 0, got %v", err)
	}
	if err := ValidateProgress(&SyncProgress{ChainID: 5, BlockNumber: 9}); err != nil {
		t.Errorf("ValidateProgress: %v", err)
	}
}
