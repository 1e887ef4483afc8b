package nodemanager

import (
	"encoding/json"

	"github.com/mplsgrant/mutiny-node/mutinyerr"
	"github.com/mplsgrant/mutiny-node/storekv"
)

// ExportJSON implements §6's export_json: dumps every persisted key
// except the ones storekv.Excluded names (logs, the network graph),
// each wrapped as json.RawMessage so the caller can re-serialize
// without double-encoding.
func (m *Manager) ExportJSON() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	err := m.store.ForEach(func(key string, value []byte) error {
		if storekv.Excluded(key) {
			return nil
		}
		out[key] = json.RawMessage(value)
		return nil
	})
	if err != nil {
		return nil, mutinyerr.Wrap(mutinyerr.ReadError, err)
	}
	return out, nil
}

// RehydrateFromExport implements §6's import path: writes every entry
// of export back into the store verbatim, refusing to touch keys
// storekv.Excluded names since a restore must never resurrect stale
// logs or an outdated network graph. The manager must not be running.
func (m *Manager) RehydrateFromExport(export map[string]json.RawMessage) error {
	if m.IsRunning() {
		return mutinyerr.New(mutinyerr.AlreadyRunning)
	}

	for key, raw := range export {
		if storekv.Excluded(key) {
			continue
		}
		if err := m.store.Put(key, []byte(raw)); err != nil {
			return mutinyerr.Wrap(mutinyerr.PersistenceFailed, err)
		}
	}

	m.registryMu.Lock()
	storage, err := m.loadNodeStorage()
	if err != nil {
		m.registryMu.Unlock()
		return err
	}
	m.nodeStorage = storage
	m.registryMu.Unlock()

	if err := m.loadPeerMetadata(); err != nil {
		return err
	}
	return nil
}
