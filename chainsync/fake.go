package chainsync

import (
	"context"
	"sync"
)

// FakeClient is an in-memory Client used by nodemanager's tests, the
// way the teacher pairs chainntfs.ChainNotifier with mockNotifier in
// chainntfs/test_utils.go.
type FakeClient struct {
	mu         sync.Mutex
	SyncCalls  int
	history    map[string][]TxHistoryEntry
	Broadcasts [][]byte
	SyncErr    error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{history: make(map[string][]TxHistoryEntry)}
}

func (f *FakeClient) Sync(ctx context.Context, sinks []ConfirmableSink) error {
	f.mu.Lock()
	f.SyncCalls++
	err := f.SyncErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	for _, sink := range sinks {
		if err := sink.SyncToTip(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeClient) SetScriptHistory(script []byte, entries []TxHistoryEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[string(script)] = entries
}

func (f *FakeClient) ScriptHistory(ctx context.Context, script []byte) ([]TxHistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[string(script)], nil
}

func (f *FakeClient) BroadcastTx(ctx context.Context, rawTx []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Broadcasts = append(f.Broadcasts, rawTx)
	return nil
}

// FakeSink is a ConfirmableSink test double recording how many times it
// was synced.
type FakeSink struct {
	mu    sync.Mutex
	Calls int
	Err   error
}

func (s *FakeSink) SyncToTip(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	return s.Err
}
