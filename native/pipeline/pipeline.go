package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"vaultguard/core/events"
	"vaultguard/native/automation"
	"vaultguard/native/risk"
	"vaultguard/native/vault"
)

var (
	// ErrNotRunning is returned when an intent is sent to a pipeline whose
	// run loop has stopped.
	ErrNotRunning = errors.New("pipeline: not running")
	// ErrMissingDependency is returned by New when a required capability is
	// absent.
	ErrMissingDependency = errors.New("pipeline: missing dependency")
)

// Deps bundles the capabilities a pipeline needs. Emitter may be nil; every
// other field is required.
type Deps struct {
	Markets    MarketRegistry
	Prices     PriceFeed
	Proxies    ProxyRegistry
	Allowances AllowanceSource
	Positions  NativeSource
	Submitter  Submitter
	Emitter    events.Emitter
}

func (d Deps) validate() error {
	switch {
	case d.Markets == nil:
		return fmt.Errorf("%w: market registry", ErrMissingDependency)
	case d.Prices == nil:
		return fmt.Errorf("%w: price feed", ErrMissingDependency)
	case d.Proxies == nil:
		return fmt.Errorf("%w: proxy registry", ErrMissingDependency)
	case d.Allowances == nil:
		return fmt.Errorf("%w: allowance source", ErrMissingDependency)
	case d.Positions == nil:
		return fmt.Errorf("%w: native source", ErrMissingDependency)
	case d.Submitter == nil:
		return fmt.Errorf("%w: submitter", ErrMissingDependency)
	}
	return nil
}

// Connectivity is the caller's wallet context at pipeline start. A
// disconnected pipeline never leaves the read-only path.
type Connectivity struct {
	Connected bool
	Owner     common.Address
	Protocol  vault.Protocol
	// Spender receives the token allowance. When zero the resolved proxy
	// address is used instead.
	Spender common.Address
}

// Intent is a user input delivered to a running pipeline. Intents that do
// not apply to the current state are dropped without effect.
type Intent interface {
	intent()
}

// SubmitIntent affirms the current step: it leaves editing for the
// transaction stages, and confirms a pending transaction.
type SubmitIntent struct{}

// RetryIntent resubmits after a reverted or timed out transaction.
type RetryIntent struct{}

// ContinueIntent releases a stage parked in TxWaitToContinue.
type ContinueIntent struct{}

// PatchIntent adjusts the trigger configuration while editing. The
// descriptor and validation are rebuilt before the next emission.
type PatchIntent struct {
	Patches []automation.Patch
}

func (SubmitIntent) intent()   {}
func (RetryIntent) intent()    {}
func (ContinueIntent) intent() {}
func (PatchIntent) intent()    {}

// State is one immutable observation of a pipeline. Exactly one is emitted
// per change; pointer fields are cloned so observers can hold them.
type State struct {
	PipelineID    string
	Market        string
	Stage         Stage
	Flags         StageFlags
	TxStatus      TxStatus
	TxHash        common.Hash
	Price         PriceQuote
	ProxyAddress  common.Address
	Position      *vault.PositionData
	Metadata      *automation.StopLossMetadata
	Triggers      automation.TriggerSet
	Validation    automation.Result
	FailureReason string
}

// Instance is one live pipeline. A single goroutine, the one running Run,
// owns the state; everyone else observes via States and steers via Send.
type Instance struct {
	id      string
	deps    Deps
	cfg     automation.Config
	env     automation.Env
	market  string
	conn    Connectivity
	intents chan Intent
	states  chan State
	state   State
}

// New builds a pipeline for one market and wallet context. env carries the
// gas snapshot used by validation; its next-price field is overwritten from
// the price feed once the market is validated.
func New(deps Deps, cfg automation.Config, env automation.Env, market string, conn Connectivity) (*Instance, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if market == "" {
		return nil, fmt.Errorf("pipeline: empty market")
	}
	cfg.EnsureDefaults()
	p := &Instance{
		id:      uuid.NewString(),
		deps:    deps,
		cfg:     cfg,
		env:     env,
		market:  market,
		conn:    conn,
		intents: make(chan Intent),
		states:  make(chan State),
	}
	p.state = State{
		PipelineID: p.id,
		Market:     market,
		Stage:      StageMarketValidationLoading,
		Flags:      FlagsFor(StageMarketValidationLoading),
	}
	return p, nil
}

// ID returns the pipeline identifier.
func (p *Instance) ID() string { return p.id }

// States returns the emission channel. It is closed when Run returns.
func (p *Instance) States() <-chan State { return p.states }

// Send delivers an intent to the run loop.
func (p *Instance) Send(ctx context.Context, intent Intent) error {
	select {
	case p.intents <- intent:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotRunning, ctx.Err())
	}
}

// Run drives the pipeline to completion or cancellation. Cancelling the
// context leaves no side effects beyond a transaction that was already
// submitted.
func (p *Instance) Run(ctx context.Context) error {
	defer close(p.states)

	if !p.publish(ctx) {
		return ctx.Err()
	}
	if err := p.validateMarket(ctx); err != nil {
		p.state.FailureReason = err.Error()
		p.emitFailure()
		p.setStage(ctx, StageMarketValidationFailure)
		return err
	}
	if !p.setStage(ctx, StageMarketValidationSuccess) {
		return ctx.Err()
	}

	quote, err := p.deps.Prices.MarketPrice(ctx, vault.CollateralToken(p.market))
	if err != nil {
		wrapped := fmt.Errorf("pipeline: market price: %w", err)
		p.state.FailureReason = wrapped.Error()
		p.emitFailure()
		p.setStage(ctx, StageMarketValidationFailure)
		return wrapped
	}
	p.state.Price = quote
	if quote.Next != nil {
		p.env.NextCollateralPrice = quote.Next
	}

	if !p.conn.Connected {
		if !p.setStage(ctx, StageEditingReadonly) {
			return ctx.Err()
		}
		p.drain(ctx)
		return ctx.Err()
	}

	if err := p.loadPosition(ctx); err != nil {
		return p.abort(ctx, err)
	}
	p.state.Triggers = automation.DefaultTriggers(p.conn.Protocol)
	if err := p.refreshMetadata(); err != nil {
		return p.abort(ctx, err)
	}
	if !p.setStage(ctx, StageEditingConnected) {
		return ctx.Err()
	}
	if !p.awaitLeaveEditing(ctx) {
		return ctx.Err()
	}

	if err := p.runProxyStage(ctx); err != nil {
		return err
	}
	if err := p.runAllowanceStage(ctx); err != nil {
		return err
	}

	if !p.setStage(ctx, StageAction) {
		return ctx.Err()
	}
	return p.runTx(ctx, TxDescriptor{
		Kind:   TxKindOpenPosition,
		Market: p.market,
		Owner:  p.conn.Owner,
	})
}

func (p *Instance) validateMarket(ctx context.Context) error {
	markets, err := p.deps.Markets.ValidMarkets(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: market registry: %w", err)
	}
	for _, m := range markets {
		if m == p.market {
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown market %q", p.market)
}

func (p *Instance) loadPosition(ctx context.Context) error {
	native, err := p.deps.Positions.PositionState(ctx, p.conn.Protocol, p.conn.Owner)
	if err != nil {
		return fmt.Errorf("pipeline: position state: %w", err)
	}
	position, err := vault.Translate(native)
	if err != nil {
		return fmt.Errorf("pipeline: translate position: %w", err)
	}
	p.state.Position = position
	return nil
}

func (p *Instance) refreshMetadata() error {
	metadata, err := automation.StopLossMetadataFor(p.conn.Protocol, p.state.Position, p.state.Triggers, p.env, p.cfg)
	if err != nil {
		return fmt.Errorf("pipeline: metadata: %w", err)
	}
	level := risk.StartingStopLossLevel(p.state.Triggers.StopLoss.Level, p.state.Triggers.StopLoss.Enabled, metadata.Values.InitialLevel)
	p.state.Metadata = metadata
	p.state.Validation = metadata.Validate(p.state.Position, p.state.Triggers, level, p.env, p.cfg)
	return nil
}

// awaitLeaveEditing applies patches until a submit arrives. Submits are
// ignored while validation is blocking.
func (p *Instance) awaitLeaveEditing(ctx context.Context) bool {
	for {
		intent, ok := p.nextIntent(ctx)
		if !ok {
			return false
		}
		switch v := intent.(type) {
		case SubmitIntent:
			if p.state.Validation.Blocking {
				continue
			}
			return true
		case PatchIntent:
			if !p.applyPatches(ctx, v.Patches) {
				return false
			}
		}
	}
}

func (p *Instance) applyPatches(ctx context.Context, patches []automation.Patch) bool {
	if len(patches) == 0 {
		return true
	}
	p.state.Triggers.Apply(patches...)
	if err := p.refreshMetadata(); err != nil {
		p.state.FailureReason = err.Error()
	}
	if p.deps.Emitter != nil {
		p.deps.Emitter.Emit(events.TriggerUpdated{
			PipelineID: p.id,
			Market:     p.market,
			Trigger:    "stopLoss",
		})
	}
	return p.publish(ctx)
}

// runProxyStage short-circuits when the proxy already exists. Otherwise it
// drives a proxy creation transaction and parks in TxWaitToContinue until
// the caller confirms with a ContinueIntent, then re-resolves the address.
func (p *Instance) runProxyStage(ctx context.Context) error {
	if !p.setStage(ctx, StageProxy) {
		return ctx.Err()
	}
	proxy, exists, err := p.deps.Proxies.ProxyAddress(ctx, p.conn.Owner)
	if err != nil {
		return p.abort(ctx, fmt.Errorf("pipeline: proxy lookup: %w", err))
	}
	if exists {
		p.state.ProxyAddress = proxy
		return p.shortCircuit(ctx)
	}

	if err := p.runTx(ctx, TxDescriptor{
		Kind:   TxKindProxyCreate,
		Market: p.market,
		Owner:  p.conn.Owner,
	}); err != nil {
		return err
	}
	if ok, err := p.applyTx(ctx, EventDownstreamGate); !ok || err != nil {
		return p.firstErr(ctx, err)
	}
	if !p.awaitContinue(ctx) {
		return ctx.Err()
	}
	if ok, err := p.applyTx(ctx, EventDownstreamReady); !ok || err != nil {
		return p.firstErr(ctx, err)
	}
	proxy, exists, err = p.deps.Proxies.ProxyAddress(ctx, p.conn.Owner)
	if err != nil {
		return p.abort(ctx, fmt.Errorf("pipeline: proxy lookup: %w", err))
	}
	if !exists {
		return p.abort(ctx, fmt.Errorf("pipeline: proxy missing after creation"))
	}
	p.state.ProxyAddress = proxy
	return p.publishErr(ctx)
}

// runAllowanceStage short-circuits when the spender already holds a
// non-zero allowance.
func (p *Instance) runAllowanceStage(ctx context.Context) error {
	if !p.setStage(ctx, StageAllowance) {
		return ctx.Err()
	}
	token := vault.CollateralToken(p.market)
	allowance, err := p.deps.Allowances.Allowance(ctx, token, p.conn.Owner, p.spender())
	if err != nil {
		return p.abort(ctx, fmt.Errorf("pipeline: allowance lookup: %w", err))
	}
	if allowance != nil && !allowance.IsZero() {
		return p.shortCircuit(ctx)
	}
	return p.runTx(ctx, TxDescriptor{
		Kind:   TxKindAllowanceSet,
		Market: p.market,
		Owner:  p.conn.Owner,
	})
}

func (p *Instance) spender() common.Address {
	if p.conn.Spender == (common.Address{}) {
		return p.state.ProxyAddress
	}
	return p.conn.Spender
}

// shortCircuit marks a prerequisite stage satisfied without entering the
// transaction machine. The status jumps straight to TxSuccess; no
// TxWaitingForConfirmation is ever observed.
func (p *Instance) shortCircuit(ctx context.Context) error {
	if !p.setTxStatus(ctx, TxSuccess) {
		return ctx.Err()
	}
	return nil
}

// runTx drives one transaction through the lifecycle machine until the
// receipt confirms. Wallet rejections loop back to confirmation; reverts
// and timeouts park in TxFailure until a RetryIntent arrives.
func (p *Instance) runTx(ctx context.Context, tx TxDescriptor) error {
	if ok, err := p.applyTx(ctx, EventSubmit); !ok || err != nil {
		return p.firstErr(ctx, err)
	}
	for {
		switch p.state.TxStatus {
		case TxWaitingForConfirmation:
			if !p.awaitSubmitOrPatch(ctx) {
				return ctx.Err()
			}
			done, err := p.submitOnce(ctx, tx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case TxFailure:
			if !p.awaitRetry(ctx) {
				return ctx.Err()
			}
			if ok, err := p.applyTx(ctx, EventRetry); !ok || err != nil {
				return p.firstErr(ctx, err)
			}
		default:
			return p.abort(ctx, fmt.Errorf("pipeline: unexpected tx status %s", p.state.TxStatus))
		}
	}
}

// submitOnce performs one wallet round trip. It returns done=true when the
// receipt confirmed, done=false when the machine is back at confirmation or
// parked in failure.
func (p *Instance) submitOnce(ctx context.Context, tx TxDescriptor) (bool, error) {
	if ok, err := p.applyTx(ctx, EventSubmit); !ok || err != nil {
		return false, p.firstErr(ctx, err)
	}
	stream, err := p.deps.Submitter.Submit(ctx, tx)
	if err != nil {
		p.state.FailureReason = fmt.Errorf("pipeline: submit: %w", err).Error()
		if ok, applyErr := p.applyTx(ctx, EventWalletRejected); !ok || applyErr != nil {
			return false, p.firstErr(ctx, applyErr)
		}
		return false, nil
	}
	for ev := range stream {
		var txEvent TxEvent
		switch ev.Kind {
		case SubmitApproved:
			p.state.TxHash = ev.TxHash
			txEvent = EventWalletApproved
		case SubmitRejected:
			p.state.FailureReason = ev.Reason
			txEvent = EventWalletRejected
		case SubmitReceiptSuccess:
			p.state.FailureReason = ""
			txEvent = EventReceiptSuccess
		case SubmitReceiptRevert:
			p.state.FailureReason = ev.Reason
			txEvent = EventReceiptRevert
		case SubmitTimeout:
			p.state.FailureReason = ev.Reason
			txEvent = EventTimeout
		default:
			continue
		}
		ok, err := p.applyTx(ctx, txEvent)
		if err != nil {
			return false, p.abort(ctx, err)
		}
		if !ok {
			return false, ctx.Err()
		}
		switch p.state.TxStatus {
		case TxSuccess:
			return true, nil
		case TxFailure, TxWaitingForConfirmation:
			return false, nil
		}
	}
	// Stream closed without a terminal event.
	p.state.FailureReason = "pipeline: submission stream closed"
	if ok, err := p.applyTx(ctx, EventTimeout); !ok || err != nil {
		return false, p.firstErr(ctx, err)
	}
	return false, nil
}

func (p *Instance) awaitSubmitOrPatch(ctx context.Context) bool {
	for {
		intent, ok := p.nextIntent(ctx)
		if !ok {
			return false
		}
		switch v := intent.(type) {
		case SubmitIntent:
			return true
		case PatchIntent:
			if !p.applyPatches(ctx, v.Patches) {
				return false
			}
		}
	}
}

func (p *Instance) awaitRetry(ctx context.Context) bool {
	for {
		intent, ok := p.nextIntent(ctx)
		if !ok {
			return false
		}
		if _, isRetry := intent.(RetryIntent); isRetry {
			return true
		}
	}
}

func (p *Instance) awaitContinue(ctx context.Context) bool {
	for {
		intent, ok := p.nextIntent(ctx)
		if !ok {
			return false
		}
		if _, isContinue := intent.(ContinueIntent); isContinue {
			return true
		}
	}
}

func (p *Instance) nextIntent(ctx context.Context) (Intent, bool) {
	select {
	case intent := <-p.intents:
		return intent, true
	case <-ctx.Done():
		return nil, false
	}
}

// drain keeps the read-only path alive, discarding intents, until the
// context is cancelled.
func (p *Instance) drain(ctx context.Context) {
	for {
		if _, ok := p.nextIntent(ctx); !ok {
			return
		}
	}
}

func (p *Instance) setStage(ctx context.Context, next Stage) bool {
	prev := p.state.Stage
	p.state.Stage = next
	p.state.Flags = FlagsFor(next)
	p.state.TxStatus = TxIdle
	p.state.TxHash = common.Hash{}
	if p.deps.Emitter != nil && prev != next {
		p.deps.Emitter.Emit(events.PipelineStageChanged{
			PipelineID: p.id,
			Market:     p.market,
			From:       prev.String(),
			To:         next.String(),
		})
	}
	return p.publish(ctx)
}

func (p *Instance) applyTx(ctx context.Context, event TxEvent) (bool, error) {
	next, err := NextTxStatus(p.state.TxStatus, event)
	if err != nil {
		return false, err
	}
	return p.setTxStatus(ctx, next), nil
}

func (p *Instance) setTxStatus(ctx context.Context, next TxStatus) bool {
	prev := p.state.TxStatus
	p.state.TxStatus = next
	if p.deps.Emitter != nil && prev != next {
		p.deps.Emitter.Emit(events.PipelineTxStatusChanged{
			PipelineID: p.id,
			Market:     p.market,
			Stage:      p.state.Stage.String(),
			From:       prev.String(),
			To:         next.String(),
			TxHash:     p.state.TxHash.Hex(),
		})
	}
	return p.publish(ctx)
}

func (p *Instance) abort(ctx context.Context, err error) error {
	p.state.FailureReason = err.Error()
	p.emitFailure()
	p.publish(ctx)
	return err
}

func (p *Instance) emitFailure() {
	if p.deps.Emitter == nil {
		return
	}
	p.deps.Emitter.Emit(events.PipelineFailed{
		PipelineID: p.id,
		Market:     p.market,
		Stage:      p.state.Stage.String(),
		Reason:     p.state.FailureReason,
	})
}

// firstErr folds the (published, err) pair from applyTx into one error.
func (p *Instance) firstErr(ctx context.Context, err error) error {
	if err != nil {
		return p.abort(ctx, err)
	}
	return ctx.Err()
}

func (p *Instance) publishErr(ctx context.Context) error {
	if !p.publish(ctx) {
		return ctx.Err()
	}
	return nil
}

func (p *Instance) publish(ctx context.Context) bool {
	select {
	case p.states <- p.snapshot():
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Instance) snapshot() State {
	snap := p.state
	if snap.Position != nil {
		snap.Position = snap.Position.Clone()
	}
	snap.Triggers = snap.Triggers.Clone()
	return snap
}
