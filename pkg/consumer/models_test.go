package consumer

import (
	"strings"
	"testing"
)

func TestTransitionRefusesToLeaveTerminalStates(t *testing.T) {
	terminals := []Status{StatusSuccess, StatusFailed, StatusRetryExhausted, StatusDiscarded}
	for _, terminal := range terminals {
		log := &ConsumptionLog{ID: 1, Status: terminal}
		if err := log.Transition(StatusProcessing); err == nil {
			t.Errorf("transition out of %s must fail", terminal)
		}
		if log.Status != terminal {
			t.Errorf("status must stay %s, got %s", terminal, log.Status)
		}
	}
}

func TestTransitionAllowsForwardFlow(t *testing.T) {
	log := &ConsumptionLog{Status: StatusReceived}
	for _, next := range []Status{StatusProcessing, StatusSuccess} {
		if err := log.Transition(next); err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
	}
	if log.Status != StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", log.Status)
	}
}

func TestStackTraceTruncation(t *testing.T) {
	log := &ConsumptionLog{}
	log.SetStackTrace(strings.Repeat("x", 10000))
	if len(log.ErrorStackTrace) != maxStackTrace {
		t.Fatalf("expected truncation to %d chars, got %d", maxStackTrace, len(log.ErrorStackTrace))
	}

	log.SetStackTrace("short")
	if log.ErrorStackTrace != "short" {
		t.Fatal("short traces must be stored verbatim")
	}
}
