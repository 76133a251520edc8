// Package supervisor owns the lifecycle of one Adapter+Listener pair per
// configured chain, following the registry/lifecycle split of
// pkg/multichain.Manager/Registry/ChainInstance before this rework, but
// narrowed to what the ingestion core actually needs: start/stop, restart,
// strategy switch, and a status snapshot. Health-checking and auto-restart
// remain the supervisor's job; chain-id/ABI/storage specifics stay inside
// the Adapter and listener packages it coordinates.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainsift/indexer/internal/constants"
	"github.com/chainsift/indexer/pkg/adapter"
	"github.com/chainsift/indexer/pkg/dispatcher"
	"github.com/chainsift/indexer/pkg/listener"
	"github.com/chainsift/indexer/pkg/model"
	"github.com/chainsift/indexer/pkg/store"
)

var (
	ErrChainNotFound      = errors.New("chain not found")
	ErrChainAlreadyExists = errors.New("chain already registered")
)

// Config holds the default batching/backoff knobs handed to every listener
// a Supervisor builds, overridable per call where the caller has a reason to.
type Config struct {
	PullConfig           listener.PullConfig
	PushConfig           listener.PushConfig
	HealthCheckInterval  time.Duration
	AutoRestart          bool
	AutoRestartDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PullConfig == (listener.PullConfig{}) {
		c.PullConfig = listener.DefaultPullConfig()
	}
	if c.PushConfig == (listener.PushConfig{}) {
		c.PushConfig = listener.DefaultPushConfig()
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = constants.DefaultHealthCheckInterval
	}
	if c.AutoRestartDelay <= 0 {
		c.AutoRestartDelay = 60 * time.Second
	}
	return c
}

// ChainStatus is the status snapshot returned for one chain.
type ChainStatus struct {
	ChainID     int64         `json:"chainId"`
	Name        string        `json:"name"`
	Strategy    string        `json:"strategy"`
	State       listener.State `json:"state"`
	Cursor      uint64        `json:"cursor"`
	Connected   bool          `json:"connected"`
	LastErrorAt *time.Time    `json:"lastErrorAt,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
}

type entry struct {
	cfg      *model.ChainConfig
	adapter  *adapter.Adapter
	listener listener.Listener

	mu          sync.Mutex
	lastErrorAt *time.Time
	lastError   string
}

// Supervisor starts/stops one Adapter+Listener pair per enabled chain
// configuration, matching them against store.ConfigStore's ChainConfigs on
// Start and supporting targeted restart/strategy-switch afterwards.
type Supervisor struct {
	cfg        Config
	configs    store.ConfigStore
	contracts  *adapter.ContractSource
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[int64]*entry

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New constructs a Supervisor. configs supplies chain and contract
// configuration; dispatcher receives every decoded event from every listener.
func New(cfg Config, configs store.ConfigStore, disp *dispatcher.Dispatcher, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:        cfg.withDefaults(),
		configs:    configs,
		contracts:  adapter.NewContractSource(configs),
		dispatcher: disp,
		logger:     logger.Named("supervisor"),
		entries:    make(map[int64]*entry),
	}
}

// Start connects and starts a listener for every enabled chain in the
// config store. Failure to start one chain is logged and does not prevent
// the others from starting.
func (s *Supervisor) Start(ctx context.Context) error {
	chains, err := s.configs.ChainConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load chain configs: %w", err)
	}

	for _, cfg := range chains {
		if !cfg.Enabled {
			continue
		}
		if err := s.startChain(ctx, cfg); err != nil {
			s.logger.Error("failed to start chain", zap.Int64("chain_id", cfg.ChainID), zap.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.runDone = make(chan struct{})
	if s.cfg.AutoRestart {
		go s.autoRestartLoop(runCtx)
	} else {
		close(s.runDone)
	}
	return nil
}

// Stop stops every running listener and disconnects its adapter. Errors
// stopping one chain are logged; Stop always attempts every chain.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.runDone != nil {
		select {
		case <-s.runDone:
		case <-ctx.Done():
		}
	}

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		if e.listener != nil {
			if err := e.listener.Stop(ctx); err != nil {
				s.logger.Error("error stopping listener", zap.Int64("chain_id", e.cfg.ChainID), zap.Error(err))
			}
		}
		if err := e.adapter.Disconnect(); err != nil {
			s.logger.Error("error disconnecting adapter", zap.Int64("chain_id", e.cfg.ChainID), zap.Error(err))
		}
	}
	return nil
}

func (s *Supervisor) startChain(ctx context.Context, cfg *model.ChainConfig) error {
	s.mu.Lock()
	if _, exists := s.entries[cfg.ChainID]; exists {
		s.mu.Unlock()
		return ErrChainAlreadyExists
	}
	s.mu.Unlock()

	a := adapter.New(cfg, s.logger)
	if err := a.Connect(ctx); err != nil {
		return err
	}

	lis, err := a.MakeListener(cfg.EffectiveStrategy(), s.contracts, s.dispatcher, 0, s.cfg.PullConfig, s.cfg.PushConfig)
	if err != nil {
		a.Disconnect()
		return err
	}
	if err := lis.Start(ctx); err != nil {
		a.Disconnect()
		return err
	}

	s.mu.Lock()
	s.entries[cfg.ChainID] = &entry{cfg: cfg, adapter: a, listener: lis}
	s.mu.Unlock()

	s.logger.Info("chain started", zap.Int64("chain_id", cfg.ChainID), zap.String("strategy", string(lis.Strategy())))
	return nil
}

// RestartListener stops and restarts the listener for chainID against a
// fresh adapter connection, preserving its last processed cursor.
func (s *Supervisor) RestartListener(ctx context.Context, chainID int64) error {
	s.mu.RLock()
	e, ok := s.entries[chainID]
	s.mu.RUnlock()
	if !ok {
		return ErrChainNotFound
	}

	cursor := e.listener.Cursor()
	if err := e.listener.Stop(ctx); err != nil {
		s.logger.Warn("restart: stop failed, continuing anyway", zap.Int64("chain_id", chainID), zap.Error(err))
	}
	if err := e.adapter.Disconnect(); err != nil {
		s.logger.Warn("restart: disconnect failed, continuing anyway", zap.Int64("chain_id", chainID), zap.Error(err))
	}

	if err := e.adapter.Connect(ctx); err != nil {
		s.recordError(e, err)
		return err
	}
	lis, err := e.adapter.MakeListener(e.cfg.EffectiveStrategy(), s.contracts, s.dispatcher, cursor, s.cfg.PullConfig, s.cfg.PushConfig)
	if err != nil {
		s.recordError(e, err)
		return err
	}
	if err := lis.Start(ctx); err != nil {
		s.recordError(e, err)
		return err
	}

	s.mu.Lock()
	e.listener = lis
	s.mu.Unlock()
	s.logger.Info("chain restarted", zap.Int64("chain_id", chainID))
	return nil
}

// SwitchStrategy stops the chain's current listener and starts a new one
// under newStrategy. The new listener's cursor is seeded from the chain head
// observed at switch time, not the old listener's cursor, so a pull->push
// switch never re-delivers already-caught-up blocks and a push->pull switch
// never misses the gap between the old listener's last-seen block and the
// current head.
func (s *Supervisor) SwitchStrategy(ctx context.Context, chainID int64, newStrategy model.Strategy) error {
	s.mu.RLock()
	e, ok := s.entries[chainID]
	s.mu.RUnlock()
	if !ok {
		return ErrChainNotFound
	}

	head, err := e.adapter.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("read chain head before strategy switch: %w", err)
	}

	if err := e.listener.Stop(ctx); err != nil {
		s.logger.Warn("strategy switch: stop failed, continuing anyway", zap.Int64("chain_id", chainID), zap.Error(err))
	}

	lis, err := e.adapter.MakeListener(newStrategy, s.contracts, s.dispatcher, head, s.cfg.PullConfig, s.cfg.PushConfig)
	if err != nil {
		return err
	}
	if err := lis.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	e.listener = lis
	next := *e.cfg
	next.Strategy = newStrategy
	e.cfg = &next
	s.mu.Unlock()
	s.logger.Info("strategy switched", zap.Int64("chain_id", chainID), zap.String("strategy", string(newStrategy)), zap.Uint64("cursor", head))
	return nil
}

// StartListener starts a chain not currently registered, reading its
// configuration fresh from the config store.
func (s *Supervisor) StartListener(ctx context.Context, chainID int64) error {
	cfg, err := s.configs.ChainConfig(ctx, chainID)
	if err != nil {
		return err
	}
	return s.startChain(ctx, cfg)
}

// StopListener stops and unregisters chainID's listener entirely.
func (s *Supervisor) StopListener(ctx context.Context, chainID int64) error {
	s.mu.Lock()
	e, ok := s.entries[chainID]
	if ok {
		delete(s.entries, chainID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrChainNotFound
	}

	if err := e.listener.Stop(ctx); err != nil {
		s.logger.Error("error stopping listener", zap.Int64("chain_id", chainID), zap.Error(err))
	}
	return e.adapter.Disconnect()
}

// Status returns a snapshot of every registered chain.
func (s *Supervisor) Status() []ChainStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChainStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.statusOf(e))
	}
	return out
}

// ChainStatusByID returns one chain's status snapshot.
func (s *Supervisor) ChainStatusByID(chainID int64) (ChainStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[chainID]
	if !ok {
		return ChainStatus{}, ErrChainNotFound
	}
	return s.statusOf(e), nil
}

func (s *Supervisor) statusOf(e *entry) ChainStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := ChainStatus{
		ChainID:     e.cfg.ChainID,
		Name:        e.cfg.Name,
		Strategy:    e.listener.Strategy(),
		State:       e.listener.State(),
		Cursor:      e.listener.Cursor(),
		Connected:   e.listener.State() == listener.StateRunning,
		LastErrorAt: e.lastErrorAt,
		LastError:   e.lastError,
	}
	return st
}

func (s *Supervisor) recordError(e *entry, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	e.lastErrorAt = &now
	e.lastError = err.Error()
}

// autoRestartLoop periodically restarts any chain whose listener has landed
// in StateFailed, waiting at least AutoRestartDelay since its last recorded
// error; a failed chain with no recorded error is restarted on the next tick.
func (s *Supervisor) autoRestartLoop(ctx context.Context) {
	defer close(s.runDone)
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.restartFailedChains(ctx)
		}
	}
}

func (s *Supervisor) restartFailedChains(ctx context.Context) {
	s.mu.RLock()
	var failed []int64
	for chainID, e := range s.entries {
		if e.listener.State() != listener.StateFailed {
			continue
		}
		e.mu.Lock()
		recent := e.lastErrorAt != nil && time.Since(*e.lastErrorAt) < s.cfg.AutoRestartDelay
		e.mu.Unlock()
		if !recent {
			failed = append(failed, chainID)
		}
	}
	s.mu.RUnlock()

	for _, chainID := range failed {
		s.logger.Info("auto-restarting failed chain", zap.Int64("chain_id", chainID))
		if err := s.RestartListener(ctx, chainID); err != nil {
			s.logger.Error("auto-restart failed", zap.Int64("chain_id", chainID), zap.Error(err))
		}
	}
}
