package firestore

import (
	"errors"
	"testing"
	"time"

	"github.com/marketfold/api/internal/platform/pagination"
)

func TestOrderListTokenRoundTrip(t *testing.T) {
	orderDate := time.Date(2025, 6, 1, 9, 30, 15, 123456789, time.UTC)

	token := encodeOrderListToken(orderDate, "ord_42")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	gotTime, gotID, err := decodeOrderListToken(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if !gotTime.Equal(orderDate) {
		t.Fatalf("decoded time = %s, want %s", gotTime, orderDate)
	}
	if gotID != "ord_42" {
		t.Fatalf("decoded doc id = %q, want %q", gotID, "ord_42")
	}
}

func TestOrderListTokenNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("JST", 9*60*60)
	orderDate := time.Date(2025, 6, 1, 18, 0, 0, 0, loc)

	token := encodeOrderListToken(orderDate, "ord_7")
	gotTime, _, err := decodeOrderListToken(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if got, want := gotTime.UTC(), orderDate.UTC(); !got.Equal(want) {
		t.Fatalf("decoded time = %s, want %s", got, want)
	}
}

func TestDecodeOrderListTokenRejectsMalformed(t *testing.T) {
	wrongShape, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{"2025-06-01T09:00:00Z"},
	})
	if err != nil {
		t.Fatalf("encode fixture token: %v", err)
	}
	badTime, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{"yesterday-ish", "ord_1"},
	})
	if err != nil {
		t.Fatalf("encode fixture token: %v", err)
	}
	emptyID, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{"2025-06-01T09:00:00Z", ""},
	})
	if err != nil {
		t.Fatalf("encode fixture token: %v", err)
	}

	cases := map[string]string{
		"garbage base64": "%%%not-a-token%%%",
		"wrong shape":    wrongShape,
		"bad timestamp":  badTime,
		"empty doc id":   emptyID,
	}
	for name, token := range cases {
		if _, _, err := decodeOrderListToken(token); !errors.Is(err, pagination.ErrInvalidPageToken) {
			t.Fatalf("%s: error = %v, want ErrInvalidPageToken", name, err)
		}
	}
}
