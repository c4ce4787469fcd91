package signal

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]State{
		{Prepared, WaitingForEntry},
		{Prepared, Reaped},
		{WaitingForEntry, EntryHit},
		{WaitingForEntry, Cancelled},
		{EntryHit, TPHit},
		{EntryHit, SLHit},
		{EntryHit, TimeExit},
		{EntryHit, ClosedManual},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be allowed", pair[0], pair[1])
		}
	}

	rejected := [][2]State{
		{WaitingForEntry, TPHit},
		{Prepared, EntryHit},
		{TPHit, SLHit},
		{Cancelled, EntryHit},
		{Reaped, WaitingForEntry},
	}
	for _, pair := range rejected {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be rejected", pair[0], pair[1])
		}
	}
}

func TestStateClassification(t *testing.T) {
	for _, s := range []State{TPHit, SLHit, TimeExit, Cancelled, Reaped, ClosedManual} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if Prepared.IsLive() || !WaitingForEntry.IsLive() || !EntryHit.IsLive() || TPHit.IsLive() {
		t.Fatal("only WAITING_FOR_ENTRY and ENTRY_HIT are live")
	}
	if Prepared.IsVisible() || Reaped.IsVisible() || !Cancelled.IsVisible() {
		t.Fatal("PREPARED and REAPED must stay hidden")
	}
}

func TestTransitionValidate(t *testing.T) {
	tr := Transition{CandidateID: "c1", From: EntryHit, To: TPHit}
	if err := tr.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr = Transition{CandidateID: "c1", From: WaitingForEntry, To: SLHit}
	if err := tr.Validate(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	tr = Transition{CandidateID: "c1", From: Prepared, To: WaitingForEntry}
	if err := tr.Validate(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("promotion without announcement ref must be rejected")
	}
}

func TestCandidatePips(t *testing.T) {
	pip := decimal.RequireFromString("0.0001")
	buy := Candidate{Direction: Buy, EntryPrice: decimal.RequireFromString("1.19321")}
	if got := buy.Pips(decimal.RequireFromString("1.19471"), pip); !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("buy pips = %s", got)
	}
	sell := Candidate{Direction: Sell, EntryPrice: decimal.RequireFromString("1.19321")}
	if got := sell.Pips(decimal.RequireFromString("1.19471"), pip); !got.Equal(decimal.NewFromInt(-15)) {
		t.Fatalf("sell pips = %s", got)
	}
}
