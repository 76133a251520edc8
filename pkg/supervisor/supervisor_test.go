package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsift/indexer/pkg/adapter"
	"github.com/chainsift/indexer/pkg/dispatcher"
	"github.com/chainsift/indexer/pkg/listener"
	"github.com/chainsift/indexer/pkg/model"
	"github.com/chainsift/indexer/pkg/store"
)

type fakeConfigStore struct {
	chains []*model.ChainConfig
}

func (f *fakeConfigStore) ChainConfigs(ctx context.Context) ([]*model.ChainConfig, error) { return f.chains, nil }
func (f *fakeConfigStore) ChainConfig(ctx context.Context, chainID int64) (*model.ChainConfig, error) {
	for _, c := range f.chains {
		if c.ChainID == chainID {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *fakeConfigStore) ContractConfigs(ctx context.Context, chainID int64) ([]*model.ContractConfig, error) {
	return nil, nil
}
func (f *fakeConfigStore) ContractConfig(ctx context.Context, chainID int64, address string) (*model.ContractConfig, error) {
	return nil, store.ErrNotFound
}
func (f *fakeConfigStore) ContractsBySymbol(ctx context.Context, symbol string) ([]*model.ContractConfig, error) {
	return nil, nil
}
func (f *fakeConfigStore) SetChainEnabled(ctx context.Context, chainID int64, enabled bool) error {
	return nil
}
func (f *fakeConfigStore) SetContractEnabledBySymbol(ctx context.Context, symbol string, enabled bool) error {
	return nil
}

var _ store.ConfigStore = (*fakeConfigStore)(nil)

type fakeListener struct {
	mu       sync.Mutex
	state    listener.State
	cursor   uint64
	strategy string
	startErr error
	stopErr  error
	started  int
	stopped  int
}

func (l *fakeListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
	if l.startErr != nil {
		return l.startErr
	}
	l.state = listener.StateRunning
	return nil
}

func (l *fakeListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped++
	l.state = listener.StateStopped
	return l.stopErr
}

func (l *fakeListener) State() listener.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeListener) Cursor() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

func (l *fakeListener) SetCursor(block uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cursor = block
}

func (l *fakeListener) Strategy() string { return l.strategy }

var _ listener.Listener = (*fakeListener)(nil)

func newTestSupervisor(t *testing.T, chains []*model.ChainConfig) *Supervisor {
	t.Helper()
	configs := &fakeConfigStore{chains: chains}
	disp := dispatcher.New(dispatcher.Config{}, zap.NewNop(), nil)
	return New(Config{}, configs, disp, zap.NewNop())
}

// seedEntry registers a chain directly against the Supervisor's internal
// entry map, bypassing startChain so no real adapter connection is made.
// The adapter held by the entry is a genuine *adapter.Adapter constructed
// via adapter.New without Connect, so Disconnect (a no-op on unset clients)
// stays safe to call.
func seedEntry(s *Supervisor, cfg *model.ChainConfig, lis listener.Listener) {
	s.entries[cfg.ChainID] = &entry{
		cfg:      cfg,
		adapter:  adapter.New(cfg, zap.NewNop()),
		listener: lis,
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, listener.DefaultPullConfig(), cfg.PullConfig)
	assert.Equal(t, listener.DefaultPushConfig(), cfg.PushConfig)
	assert.Greater(t, cfg.HealthCheckInterval, time.Duration(0))
	assert.Greater(t, cfg.AutoRestartDelay, time.Duration(0))
}

func TestConfig_WithDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{HealthCheckInterval: 5 * time.Second, AutoRestartDelay: time.Minute}.withDefaults()
	assert.Equal(t, 5*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, time.Minute, cfg.AutoRestartDelay)
}

func TestSupervisor_StartWithNoChains_Noop(t *testing.T) {
	s := newTestSupervisor(t, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Status())
	require.NoError(t, s.Stop(context.Background()))
}

func TestSupervisor_StartSkipsDisabledChains(t *testing.T) {
	s := newTestSupervisor(t, []*model.ChainConfig{
		{ChainID: 1, Name: "eth", Enabled: false, RPCURL: "http://127.0.0.1:1", Strategy: model.StrategyPull},
	})
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Status(), "a disabled chain must never reach startChain")
	require.NoError(t, s.Stop(context.Background()))
}

func TestSupervisor_ChainStatusByID_NotFound(t *testing.T) {
	s := newTestSupervisor(t, nil)
	_, err := s.ChainStatusByID(99)
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestSupervisor_RestartListener_NotFound(t *testing.T) {
	s := newTestSupervisor(t, nil)
	err := s.RestartListener(context.Background(), 99)
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestSupervisor_SwitchStrategy_NotFound(t *testing.T) {
	s := newTestSupervisor(t, nil)
	err := s.SwitchStrategy(context.Background(), 99, model.StrategyPush)
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestSupervisor_StopListener_NotFound(t *testing.T) {
	s := newTestSupervisor(t, nil)
	err := s.StopListener(context.Background(), 99)
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestSupervisor_StatusOf_ReflectsListenerState(t *testing.T) {
	s := newTestSupervisor(t, nil)
	cfg := &model.ChainConfig{ChainID: 1, Name: "ethereum"}
	lis := &fakeListener{state: listener.StateRunning, cursor: 42, strategy: "pull"}
	seedEntry(s, cfg, lis)

	st, err := s.ChainStatusByID(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.ChainID)
	assert.Equal(t, "ethereum", st.Name)
	assert.Equal(t, "pull", st.Strategy)
	assert.Equal(t, listener.StateRunning, st.State)
	assert.EqualValues(t, 42, st.Cursor)
	assert.True(t, st.Connected)
	assert.Nil(t, st.LastErrorAt)

	all := s.Status()
	require.Len(t, all, 1)
	assert.Equal(t, st, all[0])
}

func TestSupervisor_StatusOf_NotConnectedWhenNotRunning(t *testing.T) {
	s := newTestSupervisor(t, nil)
	lis := &fakeListener{state: listener.StateFailed}
	seedEntry(s, &model.ChainConfig{ChainID: 1}, lis)

	st, err := s.ChainStatusByID(1)
	require.NoError(t, err)
	assert.False(t, st.Connected)
}

func TestSupervisor_RecordError_PopulatesStatus(t *testing.T) {
	s := newTestSupervisor(t, nil)
	lis := &fakeListener{state: listener.StateFailed}
	seedEntry(s, &model.ChainConfig{ChainID: 1}, lis)

	s.mu.RLock()
	e := s.entries[1]
	s.mu.RUnlock()
	s.recordError(e, assertErr("rpc unreachable"))

	st, err := s.ChainStatusByID(1)
	require.NoError(t, err)
	assert.Equal(t, "rpc unreachable", st.LastError)
	require.NotNil(t, st.LastErrorAt)
}

func TestSupervisor_StopListener_RemovesEntryAndDisconnects(t *testing.T) {
	s := newTestSupervisor(t, nil)
	lis := &fakeListener{state: listener.StateRunning}
	seedEntry(s, &model.ChainConfig{ChainID: 1}, lis)

	require.NoError(t, s.StopListener(context.Background(), 1))
	assert.Equal(t, 1, lis.stopped)

	_, err := s.ChainStatusByID(1)
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestSupervisor_Stop_StopsEveryListenerAndDisconnectsAdapters(t *testing.T) {
	s := newTestSupervisor(t, nil)
	lis1 := &fakeListener{state: listener.StateRunning}
	lis2 := &fakeListener{state: listener.StateRunning}
	seedEntry(s, &model.ChainConfig{ChainID: 1}, lis1)
	seedEntry(s, &model.ChainConfig{ChainID: 2}, lis2)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, lis1.stopped)
	assert.Equal(t, 1, lis2.stopped)
}

func TestSupervisor_AutoRestartLoop_StopsCleanlyOnCancel(t *testing.T) {
	configs := &fakeConfigStore{}
	disp := dispatcher.New(dispatcher.Config{}, zap.NewNop(), nil)
	s := New(Config{AutoRestart: true, HealthCheckInterval: time.Millisecond}, configs, disp, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
