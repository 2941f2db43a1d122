package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/notifyhub/actionqueue/internal/domain"
)

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     domain.Job
		wantErr error
	}{
		{"simulated job", domain.Job{Name: "resize"}, nil},
		{"webhook job", domain.Job{Name: "notify", Target: "https://example.com/hook"}, nil},
		{"empty name", domain.Job{}, domain.ErrInvalidJobName},
		{"long name", domain.Job{Name: strings.Repeat("x", 257)}, domain.ErrInvalidJobName},
		{"relative target", domain.Job{Name: "a", Target: "/hook"}, domain.ErrInvalidTarget},
		{"unsupported scheme", domain.Job{Name: "a", Target: "ftp://example.com"}, domain.ErrInvalidTarget},
		{"payload too large", domain.Job{Name: "a", Payload: json.RawMessage(`"` + strings.Repeat("x", 64<<10) + `"`)}, domain.ErrPayloadTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.job.Validate(); err != tc.wantErr {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestOutcome_IsValid(t *testing.T) {
	for _, o := range []domain.Outcome{domain.OutcomeSucceeded, domain.OutcomeFailed, domain.OutcomeCancelled} {
		if !o.IsValid() {
			t.Errorf("expected %q to be valid", o)
		}
	}
	if domain.Outcome("done").IsValid() {
		t.Error("expected unknown outcome to be invalid")
	}
}
