package models

import (
	"errors"
	"testing"
)

func TestRetrieveRequestValidate(t *testing.T) {
	cases := []struct {
		name     string
		req      RetrieveRequest
		wantErr  bool
		wantTopK int
	}{
		{"defaults applied", RetrieveRequest{Query: "q"}, false, 10},
		{"explicit top_k kept", RetrieveRequest{Query: "q", TopK: 5}, false, 5},
		{"top_k clamped to max", RetrieveRequest{Query: "q", TopK: 500}, false, 100},
		{"negative top_k defaulted", RetrieveRequest{Query: "q", TopK: -3}, false, 10},
		{"empty query", RetrieveRequest{}, true, 0},
		{"whitespace query", RetrieveRequest{Query: " \t\n"}, true, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.req.Validate(10, 100)
			if c.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("err = %v, want ErrInvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if c.req.TopK != c.wantTopK {
				t.Errorf("TopK = %d, want %d", c.req.TopK, c.wantTopK)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsInvalidInput(ErrInvalidArgument) || !IsInvalidInput(ErrInvalidDocument) {
		t.Error("invalid input sentinels not classified")
	}
	if IsInvalidInput(ErrNotFound) {
		t.Error("ErrNotFound classified as invalid input")
	}
	if !IsRetryable(ErrStoreUnavailable) || !IsRetryable(ErrEmbeddingUnavailable) {
		t.Error("transient sentinels not classified")
	}
	if IsRetryable(ErrInvalidArgument) {
		t.Error("ErrInvalidArgument classified as retryable")
	}
}
