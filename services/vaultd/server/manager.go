package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vaultguard/native/automation"
	ncommon "vaultguard/native/common"
	"vaultguard/native/pipeline"
	"vaultguard/observability/logging"
	"vaultguard/observability/metrics"
	"vaultguard/services/vaultd/journal"
)

// ErrUnknownPipeline is returned for pipeline identifiers the manager does
// not track.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// StaticMarkets is a fixed MarketRegistry loaded from service config.
type StaticMarkets []string

func (s StaticMarkets) ValidMarkets(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

type runner struct {
	instance *pipeline.Instance
	cancel   context.CancelFunc

	mu       sync.Mutex
	latest   pipeline.State
	hasState bool
	finished bool
	subs     map[chan pipeline.State]struct{}
}

// Manager owns the live pipelines: it starts them, journals their history,
// fans states out to subscribers and enforces per-owner quotas.
type Manager struct {
	deps    pipeline.Deps
	cfg     automation.Config
	logger  *slog.Logger
	journal *journal.Journal
	quota   ncommon.Quota

	mu        sync.Mutex
	pipelines map[string]*runner
	usage     map[string]ncommon.QuotaNow
	now       func() time.Time
	ttl       time.Duration
}

func NewManager(deps pipeline.Deps, cfg automation.Config, quota ncommon.Quota, j *journal.Journal, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.EnsureDefaults()
	return &Manager{
		deps:      deps,
		cfg:       cfg,
		logger:    logger,
		journal:   j,
		quota:     quota,
		pipelines: make(map[string]*runner),
		usage:     make(map[string]ncommon.QuotaNow),
		now:       time.Now,
	}
}

// SetPipelineTTL bounds how long a pipeline may run before it is cancelled.
// Zero means no bound. Must be called before Start.
func (m *Manager) SetPipelineTTL(ttl time.Duration) {
	m.ttl = ttl
}

func (m *Manager) window() uint64 {
	seconds := m.quota.WindowSeconds
	if seconds == 0 {
		seconds = 60
	}
	return uint64(m.now().Unix()) / uint64(seconds)
}

func (m *Manager) consumeQuota(owner string, starts uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := ncommon.CheckQuota(m.quota, m.window(), m.usage[owner], 1, starts)
	if err != nil {
		return err
	}
	m.usage[owner] = next
	return nil
}

// Start creates a pipeline and runs it until completion or Shutdown.
func (m *Manager) Start(env automation.Env, market string, conn pipeline.Connectivity) (string, error) {
	if err := m.consumeQuota(conn.Owner.Hex(), 1); err != nil {
		return "", err
	}
	instance, err := pipeline.New(m.deps, m.cfg, env, market, conn)
	if err != nil {
		return "", err
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if m.ttl > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.ttl)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	r := &runner{
		instance: instance,
		cancel:   cancel,
		subs:     make(map[chan pipeline.State]struct{}),
	}
	m.mu.Lock()
	m.pipelines[instance.ID()] = r
	m.mu.Unlock()

	metrics.Automation().PipelineStarted()
	m.logger.Info("pipeline started",
		"pipeline", instance.ID(),
		"market", market,
		logging.MaskField("owner", conn.Owner.Hex()))
	go m.watch(r)
	go func() {
		defer metrics.Automation().PipelineStopped()
		if err := instance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("pipeline finished with error",
				"pipeline", instance.ID(),
				"market", market,
				"error", err.Error())
		}
	}()
	return instance.ID(), nil
}

// watch consumes the state stream so the pipeline never blocks on slow
// observers, journaling and fanning out along the way.
func (m *Manager) watch(r *runner) {
	auto := metrics.Automation()
	var last pipeline.State
	first := true
	for state := range r.instance.States() {
		if first || state.Stage != last.Stage {
			auto.ObserveStageTransition(state.Stage.String())
		}
		if state.TxStatus != last.TxStatus {
			auto.ObserveTxStatusTransition(state.TxStatus.String())
		}
		if state.FailureReason != "" && state.FailureReason != last.FailureReason {
			auto.ObservePipelineFailure(state.Stage.String())
		}
		if err := m.journal.RecordTransition(state); err != nil {
			m.logger.Warn("journal write failed", "pipeline", state.PipelineID, "error", err.Error())
		}

		r.mu.Lock()
		r.latest = state
		r.hasState = true
		for sub := range r.subs {
			select {
			case sub <- state:
			default:
			}
		}
		r.mu.Unlock()

		last = state
		first = false
	}

	r.mu.Lock()
	r.finished = true
	for sub := range r.subs {
		close(sub)
	}
	r.subs = make(map[chan pipeline.State]struct{})
	r.mu.Unlock()
}

func (m *Manager) runnerFor(id string) (*runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.pipelines[id]
	return r, ok
}

// Markets lists the market identifiers pipelines accept.
func (m *Manager) Markets(ctx context.Context) ([]string, error) {
	if m.deps.Markets == nil {
		return nil, nil
	}
	return m.deps.Markets.ValidMarkets(ctx)
}

// Latest returns the most recent state for a pipeline.
func (m *Manager) Latest(id string) (pipeline.State, bool) {
	r, ok := m.runnerFor(id)
	if !ok {
		return pipeline.State{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasState {
		return pipeline.State{}, false
	}
	return r.latest, true
}

// Send delivers an intent to a running pipeline.
func (m *Manager) Send(ctx context.Context, id, owner string, intent pipeline.Intent) error {
	if err := m.consumeQuota(owner, 0); err != nil {
		return err
	}
	r, ok := m.runnerFor(id)
	if !ok {
		return ErrUnknownPipeline
	}
	r.mu.Lock()
	finished := r.finished
	r.mu.Unlock()
	if finished {
		return pipeline.ErrNotRunning
	}
	return r.instance.Send(ctx, intent)
}

// Subscribe returns a buffered stream of states starting with the latest
// known one. The returned cancel function must be called when done.
func (m *Manager) Subscribe(id string) (<-chan pipeline.State, func(), bool) {
	r, ok := m.runnerFor(id)
	if !ok {
		return nil, nil, false
	}

	sub := make(chan pipeline.State, 16)
	r.mu.Lock()
	if r.hasState {
		sub <- r.latest
	}
	if r.finished {
		close(sub)
		r.mu.Unlock()
		return sub, func() {}, true
	}
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	cancelOnce := sync.Once{}
	cancel := func() {
		cancelOnce.Do(func() {
			r.mu.Lock()
			if _, live := r.subs[sub]; live {
				delete(r.subs, sub)
				close(sub)
			}
			r.mu.Unlock()
		})
	}
	return sub, cancel, true
}

// Shutdown cancels every running pipeline.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.pipelines))
	for _, r := range m.pipelines {
		runners = append(runners, r)
	}
	m.mu.Unlock()
	for _, r := range runners {
		r.cancel()
	}
}
