package params

import (
	"errors"
	"fmt"

	coreerrors "brokerchain/core/errors"
)

// ErrAnnounceDelayTooLong is returned when a delay exceeds MaxAnnounceDelay.
var ErrAnnounceDelayTooLong = coreerrors.Declinef("params: announce delay exceeds %d seconds", MaxAnnounceDelay)

var errSettingsMissing = errors.New("params: settings not bootstrapped")

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

const settingsRecordVersion uint8 = 1

type storedSettings struct {
	Version             uint8
	Owner               [20]byte
	Coordinator         [20]byte
	WithdrawCoordinator [20]byte
	FeeAddress          [20]byte
	AnnounceDelay       uint64
	State               uint8
}

// Store provides typed accessors for the broker settings.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// Bootstrap records the owner on an empty ledger. It is a no-op when settings
// already exist, and the stored owner is never replaced.
func (s *Store) Bootstrap(owner [20]byte) (Settings, bool, error) {
	current, err := s.Settings()
	if err == nil {
		return current, false, nil
	}
	if !errors.Is(err, errSettingsMissing) {
		return Settings{}, false, err
	}
	seeded := Settings{Owner: owner, State: StatePending}
	if err := s.Put(seeded); err != nil {
		return Settings{}, false, err
	}
	return seeded, true, nil
}

// Settings loads the persisted configuration aggregate.
func (s *Store) Settings() (Settings, error) {
	state, err := s.withState()
	if err != nil {
		return Settings{}, err
	}
	var record storedSettings
	ok, err := state.KVGet([]byte(ParamsKeySettings), &record)
	if err != nil {
		return Settings{}, coreerrors.Fatal(err)
	}
	if !ok {
		return Settings{}, errSettingsMissing
	}
	if record.Version != settingsRecordVersion {
		return Settings{}, coreerrors.Fatalf("params: unsupported settings version %d", record.Version)
	}
	if record.State > uint8(StateInactive) {
		return Settings{}, coreerrors.Fatalf("params: unknown trading state %d", record.State)
	}
	return Settings{
		Owner:               record.Owner,
		Coordinator:         record.Coordinator,
		WithdrawCoordinator: record.WithdrawCoordinator,
		FeeAddress:          record.FeeAddress,
		AnnounceDelay:       record.AnnounceDelay,
		State:               TradingState(record.State),
	}, nil
}

// Put persists the configuration aggregate.
func (s *Store) Put(settings Settings) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if settings.AnnounceDelay > MaxAnnounceDelay {
		return ErrAnnounceDelayTooLong
	}
	record := storedSettings{
		Version:             settingsRecordVersion,
		Owner:               settings.Owner,
		Coordinator:         settings.Coordinator,
		WithdrawCoordinator: settings.WithdrawCoordinator,
		FeeAddress:          settings.FeeAddress,
		AnnounceDelay:       settings.AnnounceDelay,
		State:               uint8(settings.State),
	}
	if err := state.KVPut([]byte(ParamsKeySettings), &record); err != nil {
		return fmt.Errorf("params: store settings: %w", err)
	}
	return nil
}
