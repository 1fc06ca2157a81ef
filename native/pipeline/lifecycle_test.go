package pipeline

import "testing"

func mustNext(t *testing.T, from TxStatus, event TxEvent) TxStatus {
	t.Helper()
	next, err := NextTxStatus(from, event)
	if err != nil {
		t.Fatalf("transition %s --%s-->: %v", from, event, err)
	}
	return next
}

func TestTxLifecycleHappyPath(t *testing.T) {
	status := TxIdle
	status = mustNext(t, status, EventSubmit)
	if status != TxWaitingForConfirmation {
		t.Fatalf("expected waitingForConfirmation, got %s", status)
	}
	status = mustNext(t, status, EventSubmit)
	if status != TxWaitingForApproval {
		t.Fatalf("expected waitingForApproval, got %s", status)
	}
	status = mustNext(t, status, EventWalletApproved)
	if status != TxInProgress {
		t.Fatalf("expected inProgress, got %s", status)
	}
	status = mustNext(t, status, EventReceiptSuccess)
	if status != TxSuccess {
		t.Fatalf("expected success, got %s", status)
	}
}

func TestTxLifecycleRejectReturnsToConfirmation(t *testing.T) {
	status := mustNext(t, TxWaitingForApproval, EventWalletRejected)
	if status != TxWaitingForConfirmation {
		t.Fatalf("rejection should return to confirmation, got %s", status)
	}
}

func TestTxLifecycleFailureIsRetriable(t *testing.T) {
	for _, event := range []TxEvent{EventReceiptRevert, EventTimeout} {
		status := mustNext(t, TxInProgress, event)
		if status != TxFailure {
			t.Fatalf("%s should fail the transaction, got %s", event, status)
		}
		status = mustNext(t, status, EventRetry)
		if status != TxWaitingForConfirmation {
			t.Fatalf("retry should return to confirmation, got %s", status)
		}
	}
}

func TestTxLifecycleGateCycle(t *testing.T) {
	status := mustNext(t, TxSuccess, EventDownstreamGate)
	if status != TxWaitToContinue {
		t.Fatalf("expected waitToContinue, got %s", status)
	}
	status = mustNext(t, status, EventDownstreamReady)
	if status != TxSuccess {
		t.Fatalf("expected success after release, got %s", status)
	}
}

func TestTxLifecycleRejectsInvalidEdges(t *testing.T) {
	cases := []struct {
		from  TxStatus
		event TxEvent
	}{
		{TxIdle, EventRetry},
		{TxIdle, EventReceiptSuccess},
		{TxWaitingForConfirmation, EventWalletApproved},
		{TxInProgress, EventSubmit},
		{TxSuccess, EventSubmit},
		{TxSuccess, EventRetry},
		{TxFailure, EventSubmit},
		{TxWaitToContinue, EventSubmit},
	}
	for _, tc := range cases {
		if _, err := NextTxStatus(tc.from, tc.event); err == nil {
			t.Fatalf("expected %s --%s--> to be rejected", tc.from, tc.event)
		}
		if CanTransition(tc.from, tc.event) {
			t.Fatalf("CanTransition(%s, %s) should be false", tc.from, tc.event)
		}
	}
}

func TestTxStatusValid(t *testing.T) {
	for status := TxIdle; status <= TxWaitToContinue; status++ {
		if !status.Valid() {
			t.Fatalf("status %d should be valid", status)
		}
		if status.String() == "unknown" {
			t.Fatalf("status %d missing string tag", status)
		}
	}
	if TxStatus(200).Valid() {
		t.Fatalf("out of range status should be invalid")
	}
}
