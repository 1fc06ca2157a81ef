package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vaultguard/core/events"
	"vaultguard/native/automation"
	"vaultguard/native/vault"
)

type fakeMarkets struct {
	markets []string
	err     error
}

func (f fakeMarkets) ValidMarkets(context.Context) ([]string, error) {
	return f.markets, f.err
}

type fakePrices struct {
	quote PriceQuote
	err   error
}

func (f fakePrices) MarketPrice(context.Context, string) (PriceQuote, error) {
	return f.quote, f.err
}

type fakeProxies struct {
	addr   common.Address
	exists bool
	err    error
}

func (f *fakeProxies) ProxyAddress(context.Context, common.Address) (common.Address, bool, error) {
	return f.addr, f.exists, f.err
}

type fakeAllowances struct {
	amount *uint256.Int
	err    error
}

func (f fakeAllowances) Allowance(context.Context, string, common.Address, common.Address) (*uint256.Int, error) {
	return f.amount, f.err
}

type fakePositions struct {
	state vault.NativeState
	err   error
}

func (f fakePositions) PositionState(context.Context, vault.Protocol, common.Address) (vault.NativeState, error) {
	return f.state, f.err
}

// scriptedSubmitter replays one event script per Submit call.
type scriptedSubmitter struct {
	mu      sync.Mutex
	scripts [][]SubmitEvent
	calls   int
}

func (s *scriptedSubmitter) Submit(context.Context, TxDescriptor) (<-chan SubmitEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.scripts) {
		return nil, errors.New("no script for submit call")
	}
	script := s.scripts[s.calls]
	s.calls++
	ch := make(chan SubmitEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.EventType())
	}
	return out
}

func testMakerState() *vault.MakerState {
	owner := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	return &vault.MakerState{
		Ilk:                "ETH-A",
		Owner:              owner,
		Collateral:         big.NewRat(10, 1),
		Debt:               big.NewRat(5000, 1),
		DebtFloor:          big.NewRat(100, 1),
		LiquidationRatio:   big.NewRat(3, 2),
		LiquidationPenalty: big.NewRat(13, 100),
		CurrentPrice:       big.NewRat(1000, 1),
		NextPrice:          big.NewRat(900, 1),
	}
}

func testEnv() automation.Env {
	return automation.Env{
		GasBalance:  big.NewRat(1, 1),
		GasEstimate: big.NewRat(1, 100),
	}
}

func testDeps(submitter *scriptedSubmitter, proxies *fakeProxies, allowance *uint256.Int) Deps {
	return Deps{
		Markets:    fakeMarkets{markets: []string{"ETH-A", "WBTC-A"}},
		Prices:     fakePrices{quote: PriceQuote{Current: big.NewRat(1000, 1), Next: big.NewRat(900, 1)}},
		Proxies:    proxies,
		Allowances: fakeAllowances{amount: allowance},
		Positions:  fakePositions{state: testMakerState()},
		Submitter:  submitter,
	}
}

func connectedWallet() Connectivity {
	return Connectivity{
		Connected: true,
		Owner:     common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		Protocol:  vault.ProtocolMaker,
		Spender:   common.HexToAddress("0x00000000000000000000000000000000000Beef1"),
	}
}

func startPipeline(t *testing.T, p *Instance) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, done
}

func nextState(t *testing.T, states <-chan State) State {
	t.Helper()
	select {
	case state, ok := <-states:
		if !ok {
			t.Fatalf("state channel closed early")
		}
		return state
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for state")
	}
	return State{}
}

func send(t *testing.T, p *Instance, intent Intent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Send(ctx, intent); err != nil {
		t.Fatalf("send intent: %v", err)
	}
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not finish")
		return nil
	}
}

func expect(t *testing.T, states <-chan State, stage Stage, status TxStatus) State {
	t.Helper()
	state := nextState(t, states)
	if state.Stage != stage || state.TxStatus != status {
		t.Fatalf("expected %s/%s, got %s/%s", stage, status, state.Stage, state.TxStatus)
	}
	return state
}

func TestPipelineUnknownMarketIsTerminal(t *testing.T) {
	emitter := &captureEmitter{}
	deps := testDeps(&scriptedSubmitter{}, &fakeProxies{exists: true}, uint256.NewInt(1))
	deps.Emitter = emitter
	p, err := New(deps, automation.Config{}, testEnv(), "DOGE-A", connectedWallet())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	_, done := startPipeline(t, p)

	expect(t, p.States(), StageMarketValidationLoading, TxIdle)
	state := expect(t, p.States(), StageMarketValidationFailure, TxIdle)
	if state.FailureReason == "" {
		t.Fatalf("terminal failure should carry a reason")
	}
	if !state.Flags.IsMarketValidationStage {
		t.Fatalf("failure stage should keep market validation flags")
	}
	if err := waitErr(t, done); err == nil {
		t.Fatalf("expected run to report the unknown market")
	}
	if _, open := <-p.States(); open {
		t.Fatalf("state channel should close after terminal failure")
	}

	sawFailure := false
	for _, typ := range emitter.types() {
		if typ == events.TypePipelineFailed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatalf("expected a %s event", events.TypePipelineFailed)
	}
}

func TestPipelineReadonlyPath(t *testing.T) {
	deps := testDeps(&scriptedSubmitter{}, &fakeProxies{}, nil)
	p, err := New(deps, automation.Config{}, testEnv(), "ETH-A", Connectivity{Connected: false})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	cancel, done := startPipeline(t, p)

	expect(t, p.States(), StageMarketValidationLoading, TxIdle)
	expect(t, p.States(), StageMarketValidationSuccess, TxIdle)
	state := expect(t, p.States(), StageEditingReadonly, TxIdle)
	if !state.Flags.IsReadonly || state.Flags.IsConnected {
		t.Fatalf("readonly stage flags wrong: %+v", state.Flags)
	}
	if state.Price.Current == nil || state.Price.Current.Cmp(big.NewRat(1000, 1)) != 0 {
		t.Fatalf("readonly state should carry the market price")
	}
	if state.Position != nil || state.Metadata != nil {
		t.Fatalf("readonly state must not expose wallet data")
	}

	cancel()
	if err := waitErr(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPipelineShortCircuitsSatisfiedPrerequisites(t *testing.T) {
	submitter := &scriptedSubmitter{scripts: [][]SubmitEvent{
		{{Kind: SubmitApproved, TxHash: common.HexToHash("0x01")}, {Kind: SubmitReceiptSuccess}},
	}}
	proxies := &fakeProxies{addr: common.HexToAddress("0x00000000000000000000000000000000000Caf31"), exists: true}
	p, err := New(testDeps(submitter, proxies, uint256.NewInt(1)), automation.Config{}, testEnv(), "ETH-A", connectedWallet())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	_, done := startPipeline(t, p)

	expect(t, p.States(), StageMarketValidationLoading, TxIdle)
	expect(t, p.States(), StageMarketValidationSuccess, TxIdle)
	state := expect(t, p.States(), StageEditingConnected, TxIdle)
	if state.Metadata == nil || state.Position == nil {
		t.Fatalf("connected editing should carry position and metadata")
	}
	if state.Validation.Blocking {
		t.Fatalf("fixture should validate cleanly, got errors %v", state.Validation.Errors)
	}
	send(t, p, SubmitIntent{})

	// Both prerequisites exist: each stage jumps straight to success.
	expect(t, p.States(), StageProxy, TxIdle)
	expect(t, p.States(), StageProxy, TxSuccess)
	expect(t, p.States(), StageAllowance, TxIdle)
	expect(t, p.States(), StageAllowance, TxSuccess)

	expect(t, p.States(), StageAction, TxIdle)
	expect(t, p.States(), StageAction, TxWaitingForConfirmation)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageAction, TxWaitingForApproval)
	state = expect(t, p.States(), StageAction, TxInProgress)
	if state.TxHash != common.HexToHash("0x01") {
		t.Fatalf("approved state should carry the tx hash")
	}
	expect(t, p.States(), StageAction, TxSuccess)

	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	if submitter.calls != 1 {
		t.Fatalf("short-circuited stages must not submit, got %d calls", submitter.calls)
	}
}

func TestPipelineWalletRejectionLoopsBack(t *testing.T) {
	submitter := &scriptedSubmitter{scripts: [][]SubmitEvent{
		{{Kind: SubmitRejected, Reason: "user declined"}},
		{{Kind: SubmitApproved, TxHash: common.HexToHash("0x02")}, {Kind: SubmitReceiptSuccess}},
		{{Kind: SubmitApproved, TxHash: common.HexToHash("0x03")}, {Kind: SubmitReceiptSuccess}},
	}}
	proxies := &fakeProxies{addr: common.HexToAddress("0x00000000000000000000000000000000000Caf31"), exists: true}
	p, err := New(testDeps(submitter, proxies, uint256.NewInt(0)), automation.Config{}, testEnv(), "ETH-A", connectedWallet())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	_, done := startPipeline(t, p)

	expect(t, p.States(), StageMarketValidationLoading, TxIdle)
	expect(t, p.States(), StageMarketValidationSuccess, TxIdle)
	expect(t, p.States(), StageEditingConnected, TxIdle)
	send(t, p, SubmitIntent{})

	expect(t, p.States(), StageProxy, TxIdle)
	expect(t, p.States(), StageProxy, TxSuccess)

	// Zero allowance: the stage runs a real transaction.
	expect(t, p.States(), StageAllowance, TxIdle)
	expect(t, p.States(), StageAllowance, TxWaitingForConfirmation)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageAllowance, TxWaitingForApproval)
	state := expect(t, p.States(), StageAllowance, TxWaitingForConfirmation)
	if state.FailureReason != "user declined" {
		t.Fatalf("rejection reason not recorded: %q", state.FailureReason)
	}
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageAllowance, TxWaitingForApproval)
	expect(t, p.States(), StageAllowance, TxInProgress)
	expect(t, p.States(), StageAllowance, TxSuccess)

	expect(t, p.States(), StageAction, TxIdle)
	expect(t, p.States(), StageAction, TxWaitingForConfirmation)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageAction, TxWaitingForApproval)
	expect(t, p.States(), StageAction, TxInProgress)
	expect(t, p.States(), StageAction, TxSuccess)

	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestPipelineRetryAfterRevert(t *testing.T) {
	submitter := &scriptedSubmitter{scripts: [][]SubmitEvent{
		{{Kind: SubmitApproved, TxHash: common.HexToHash("0x04")}, {Kind: SubmitReceiptRevert, Reason: "out of gas"}},
		{{Kind: SubmitApproved, TxHash: common.HexToHash("0x05")}, {Kind: SubmitReceiptSuccess}},
	}}
	proxies := &fakeProxies{addr: common.HexToAddress("0x00000000000000000000000000000000000Caf31"), exists: true}
	p, err := New(testDeps(submitter, proxies, uint256.NewInt(1)), automation.Config{}, testEnv(), "ETH-A", connectedWallet())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	_, done := startPipeline(t, p)

	expect(t, p.States(), StageMarketValidationLoading, TxIdle)
	expect(t, p.States(), StageMarketValidationSuccess, TxIdle)
	expect(t, p.States(), StageEditingConnected, TxIdle)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageProxy, TxIdle)
	expect(t, p.States(), StageProxy, TxSuccess)
	expect(t, p.States(), StageAllowance, TxIdle)
	expect(t, p.States(), StageAllowance, TxSuccess)

	expect(t, p.States(), StageAction, TxIdle)
	expect(t, p.States(), StageAction, TxWaitingForConfirmation)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageAction, TxWaitingForApproval)
	expect(t, p.States(), StageAction, TxInProgress)
	state := expect(t, p.States(), StageAction, TxFailure)
	if state.FailureReason != "out of gas" {
		t.Fatalf("revert reason not recorded: %q", state.FailureReason)
	}

	send(t, p, RetryIntent{})
	expect(t, p.States(), StageAction, TxWaitingForConfirmation)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageAction, TxWaitingForApproval)
	expect(t, p.States(), StageAction, TxInProgress)
	expect(t, p.States(), StageAction, TxSuccess)

	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
	if submitter.calls != 2 {
		t.Fatalf("expected two submissions, got %d", submitter.calls)
	}
}

func TestPipelineProxyCreationGate(t *testing.T) {
	submitter := &scriptedSubmitter{scripts: [][]SubmitEvent{
		{{Kind: SubmitApproved, TxHash: common.HexToHash("0x06")}, {Kind: SubmitReceiptSuccess}},
		{{Kind: SubmitApproved, TxHash: common.HexToHash("0x07")}, {Kind: SubmitReceiptSuccess}},
	}}
	proxies := &fakeProxies{}
	proxyAddr := common.HexToAddress("0x00000000000000000000000000000000000Caf31")
	p, err := New(testDeps(submitter, proxies, uint256.NewInt(1)), automation.Config{}, testEnv(), "ETH-A", connectedWallet())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	_, done := startPipeline(t, p)

	expect(t, p.States(), StageMarketValidationLoading, TxIdle)
	expect(t, p.States(), StageMarketValidationSuccess, TxIdle)
	expect(t, p.States(), StageEditingConnected, TxIdle)
	send(t, p, SubmitIntent{})

	// No proxy yet: the stage runs the creation transaction.
	expect(t, p.States(), StageProxy, TxIdle)
	expect(t, p.States(), StageProxy, TxWaitingForConfirmation)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageProxy, TxWaitingForApproval)
	expect(t, p.States(), StageProxy, TxInProgress)
	expect(t, p.States(), StageProxy, TxSuccess)
	expect(t, p.States(), StageProxy, TxWaitToContinue)

	// The proxy is resolvable once the creation confirmed.
	proxies.addr = proxyAddr
	proxies.exists = true
	send(t, p, ContinueIntent{})
	expect(t, p.States(), StageProxy, TxSuccess)
	state := expect(t, p.States(), StageProxy, TxSuccess)
	if state.ProxyAddress != proxyAddr {
		t.Fatalf("resolved proxy address not published")
	}

	expect(t, p.States(), StageAllowance, TxIdle)
	expect(t, p.States(), StageAllowance, TxSuccess)
	expect(t, p.States(), StageAction, TxIdle)
	expect(t, p.States(), StageAction, TxWaitingForConfirmation)
	send(t, p, SubmitIntent{})
	expect(t, p.States(), StageAction, TxWaitingForApproval)
	expect(t, p.States(), StageAction, TxInProgress)
	expect(t, p.States(), StageAction, TxSuccess)

	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestPipelinePatchWhileEditing(t *testing.T) {
	emitter := &captureEmitter{}
	deps := testDeps(&scriptedSubmitter{}, &fakeProxies{exists: true}, uint256.NewInt(1))
	deps.Emitter = emitter
	p, err := New(deps, automation.Config{}, testEnv(), "ETH-A", connectedWallet())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	cancel, done := startPipeline(t, p)

	expect(t, p.States(), StageMarketValidationLoading, TxIdle)
	expect(t, p.States(), StageMarketValidationSuccess, TxIdle)
	before := expect(t, p.States(), StageEditingConnected, TxIdle)

	level := big.NewRat(170, 1)
	send(t, p, PatchIntent{Patches: []automation.Patch{
		automation.StopLossPatch{Enabled: automation.Bool(true), Level: level},
	}})
	after := expect(t, p.States(), StageEditingConnected, TxIdle)
	if !after.Triggers.StopLoss.Enabled {
		t.Fatalf("patch should enable the stop loss")
	}
	if after.Triggers.StopLoss.Level == nil || after.Triggers.StopLoss.Level.Cmp(level) != 0 {
		t.Fatalf("patch level not applied")
	}
	if after.Triggers.StopLoss.Level == level {
		t.Fatalf("emitted state must not alias the patch value")
	}
	if before.Triggers.StopLoss.Enabled {
		t.Fatalf("earlier emission mutated by later patch")
	}
	if after.Metadata == nil {
		t.Fatalf("metadata should be rebuilt after a patch")
	}

	sawUpdate := false
	for _, typ := range emitter.types() {
		if typ == events.TypeTriggerUpdated {
			sawUpdate = true
		}
	}
	if !sawUpdate {
		t.Fatalf("expected a %s event", events.TypeTriggerUpdated)
	}

	cancel()
	if err := waitErr(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
