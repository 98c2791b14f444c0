package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"DeficitLedger/internal/event"
)

func TestDecodePayload_SwapCarriesPinnedOutcome(t *testing.T) {
	original := &event.SwapTreasury{
		SwapID:      uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		RoutingData: []byte(`{"route":"WETH-USDC"}`),
		MinReturn:   100_000_000,
		Sequence:    7,
		Timestamp:   time.UnixMicro(1700000000000000),
		Outcome: &event.SwapOutcome{
			Destination:  "deficit-ledger",
			SourceAsset:  "WETH",
			SourceAmount: 50_000_000,
			ReturnAsset:  "USDC",
			ReturnAmount: 120_000_000,
		},
	}

	payload, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := event.DecodePayload(event.EventTypeSwapped, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	swap, ok := decoded.(*event.SwapTreasury)
	if !ok {
		t.Fatalf("expected *event.SwapTreasury, got %T", decoded)
	}
	if swap.Outcome == nil {
		t.Fatal("pinned outcome lost in round trip")
	}
	if swap.Outcome.ReturnAmount != 120_000_000 {
		t.Errorf("return amount: got %d", swap.Outcome.ReturnAmount)
	}
	if swap.IdempotencyKey() != original.IdempotencyKey() {
		t.Errorf("idempotency key changed: %s vs %s", swap.IdempotencyKey(), original.IdempotencyKey())
	}
}

func TestDecodePayload_ReclaimRoundTrip(t *testing.T) {
	original := &event.ReclaimDeficit{
		RequestID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Loan:      uuid.MustParse("660e8400-e29b-41d4-a716-446655440001"),
		Holder:    uuid.MustParse("770e8400-e29b-41d4-a716-446655440002"),
		Amount:    30_000,
		Sequence:  3,
		Timestamp: time.UnixMicro(1700000000000000),
	}

	payload, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := event.DecodePayload(event.EventTypeReclaimed, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	reclaim := decoded.(*event.ReclaimDeficit)
	if reclaim.Holder != original.Holder || reclaim.Amount != original.Amount {
		t.Errorf("got holder=%s amount=%d", reclaim.Holder, reclaim.Amount)
	}
}

func TestParseEventType_InverseOfString(t *testing.T) {
	types := []event.EventType{
		event.EventTypePoolRegistered,
		event.EventTypeLoanFunded,
		event.EventTypeRepaymentReceived,
		event.EventTypeLiquidated,
		event.EventTypeSwapped,
	}
	for _, et := range types {
		got, err := event.ParseEventType(et.String())
		if err != nil {
			t.Fatalf("parse %s: %v", et, err)
		}
		if got != et {
			t.Errorf("round trip %s: got %v", et, got)
		}
	}

	if _, err := event.ParseEventType("Unknown"); err == nil {
		t.Error("expected error for unknown type string")
	}
}
