package core

import (
	"fmt"
	"strconv"

	"mediasync/internal/model"
)

// Session is the explicit per-device sync state passed to all engine calls.
// The checkpoint and credentials live in the local store's sync_state table,
// never in memory only, so a restart resumes from the last durable state.
type Session struct {
	DeviceID string
	OwnerID  string

	store LocalStore
}

// NewSession binds a session to the device identity recorded in the store.
func NewSession(store LocalStore, deviceID, ownerID string) *Session {
	return &Session{DeviceID: deviceID, OwnerID: ownerID, store: store}
}

// LoadSession restores a session from the local store. Returns an error if
// the device has not been registered yet.
func LoadSession(store LocalStore) (*Session, error) {
	deviceID, err := store.GetState(StateDeviceID)
	if err != nil {
		return nil, fmt.Errorf("reading device id: %w", err)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("device not registered: run login first")
	}
	ownerID, err := store.GetState(StateOwnerID)
	if err != nil {
		return nil, fmt.Errorf("reading owner id: %w", err)
	}
	return &Session{DeviceID: deviceID, OwnerID: ownerID, store: store}, nil
}

// Save persists the device identity.
func (s *Session) Save() error {
	if err := s.store.SetState(StateDeviceID, s.DeviceID); err != nil {
		return fmt.Errorf("saving device id: %w", err)
	}
	if err := s.store.SetState(StateOwnerID, s.OwnerID); err != nil {
		return fmt.Errorf("saving owner id: %w", err)
	}
	return nil
}

// Checkpoint returns the last server timestamp fully merged on this device,
// 0 if the device has never completed a cycle.
func (s *Session) Checkpoint() (model.Millis, error) {
	raw, err := s.store.GetState(StateCheckpoint)
	if err != nil {
		return 0, fmt.Errorf("reading checkpoint: %w", err)
	}
	if raw == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing checkpoint %q: %w", raw, err)
	}
	return ts, nil
}

// SetCheckpoint advances the checkpoint. The checkpoint is monotonically
// non-decreasing: an older value is silently ignored so replayed cycles
// cannot move it backwards.
func (s *Session) SetCheckpoint(ts model.Millis) error {
	current, err := s.Checkpoint()
	if err != nil {
		return err
	}
	if ts < current {
		return nil
	}
	return s.store.SetState(StateCheckpoint, strconv.FormatInt(ts, 10))
}

// CurrentToken implements TokenSource.
func (s *Session) CurrentToken() (string, error) {
	return s.store.GetState(StateToken)
}

// SetToken stores a freshly issued bearer token.
func (s *Session) SetToken(token string) error {
	return s.store.SetState(StateToken, token)
}
