package pipeline

import "fmt"

// TxStatus is the lifecycle state of the transaction sub-machine shared by
// the proxy, allowance and primary action stages.
type TxStatus uint8

const (
	// TxIdle means the stage has not started its transaction yet. Stages
	// whose prerequisite already exists on chain jump straight to TxSuccess
	// without passing through the machine.
	TxIdle TxStatus = iota
	// TxWaitingForConfirmation waits for the user to affirm the intent.
	TxWaitingForConfirmation
	// TxWaitingForApproval waits for the wallet to sign.
	TxWaitingForApproval
	// TxInProgress means the transaction is pending on chain.
	TxInProgress
	// TxSuccess means the receipt confirmed the transaction.
	TxSuccess
	// TxFailure means the transaction reverted or timed out. Always
	// user-retriable, never fatal to the pipeline.
	TxFailure
	// TxWaitToContinue gates a successful stage until downstream readiness,
	// for example a confirmation count.
	TxWaitToContinue
)

// String returns the wire tag for the status.
func (s TxStatus) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxWaitingForConfirmation:
		return "waitingForConfirmation"
	case TxWaitingForApproval:
		return "waitingForApproval"
	case TxInProgress:
		return "inProgress"
	case TxSuccess:
		return "success"
	case TxFailure:
		return "failure"
	case TxWaitToContinue:
		return "waitToContinue"
	default:
		return "unknown"
	}
}

// Valid reports whether the status is within the supported range.
func (s TxStatus) Valid() bool {
	return s <= TxWaitToContinue
}

// TxEvent is an input to the lifecycle machine.
type TxEvent uint8

const (
	// EventSubmit is the user affirming intent.
	EventSubmit TxEvent = iota
	// EventWalletApproved is the wallet signing the transaction.
	EventWalletApproved
	// EventWalletRejected is the wallet declining; the stage returns to
	// confirmation with no partial effect.
	EventWalletRejected
	// EventReceiptSuccess is a confirmed receipt.
	EventReceiptSuccess
	// EventReceiptRevert is a reverted receipt.
	EventReceiptRevert
	// EventTimeout is the submission layer giving up on the transaction.
	EventTimeout
	// EventRetry is the user retrying after a failure. The prerequisite is
	// re-checked on chain before resubmission, so retries are idempotent.
	EventRetry
	// EventDownstreamGate parks a successful stage until the next stage is
	// ready to begin.
	EventDownstreamGate
	// EventDownstreamReady releases the gate.
	EventDownstreamReady
)

func (e TxEvent) String() string {
	switch e {
	case EventSubmit:
		return "submit"
	case EventWalletApproved:
		return "walletApproved"
	case EventWalletRejected:
		return "walletRejected"
	case EventReceiptSuccess:
		return "receiptSuccess"
	case EventReceiptRevert:
		return "receiptRevert"
	case EventTimeout:
		return "timeout"
	case EventRetry:
		return "retry"
	case EventDownstreamGate:
		return "downstreamGate"
	case EventDownstreamReady:
		return "downstreamReady"
	default:
		return "unknown"
	}
}

// validTxTransitions is the complete transition table. Anything absent is an
// invalid edge.
var validTxTransitions = map[TxStatus]map[TxEvent]TxStatus{
	TxIdle: {
		EventSubmit: TxWaitingForConfirmation,
	},
	TxWaitingForConfirmation: {
		EventSubmit: TxWaitingForApproval,
	},
	TxWaitingForApproval: {
		EventWalletApproved: TxInProgress,
		EventWalletRejected: TxWaitingForConfirmation,
	},
	TxInProgress: {
		EventReceiptSuccess: TxSuccess,
		EventReceiptRevert:  TxFailure,
		EventTimeout:        TxFailure,
	},
	TxFailure: {
		EventRetry: TxWaitingForConfirmation,
	},
	TxSuccess: {
		EventDownstreamGate: TxWaitToContinue,
	},
	TxWaitToContinue: {
		EventDownstreamReady: TxSuccess,
	},
}

// NextTxStatus applies an event to a status, returning an error on edges the
// table does not allow. The pipeline treats such errors as programming
// mistakes, not user-visible failures.
func NextTxStatus(from TxStatus, event TxEvent) (TxStatus, error) {
	edges, ok := validTxTransitions[from]
	if !ok {
		return from, fmt.Errorf("pipeline: no transitions from %s", from)
	}
	next, ok := edges[event]
	if !ok {
		return from, fmt.Errorf("pipeline: invalid transition %s --%s-->", from, event)
	}
	return next, nil
}

// CanTransition reports whether the edge exists without applying it.
func CanTransition(from TxStatus, event TxEvent) bool {
	_, err := NextTxStatus(from, event)
	return err == nil
}
