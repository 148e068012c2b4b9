package common

import (
	"errors"
	"testing"

	"brokerchain/native/params"
)

func signers(addrs ...[20]byte) Authorizer {
	set := make(map[[20]byte]bool, len(addrs))
	for _, a := range addrs {
		set[a] = true
	}
	return AuthorizerFunc(func(addr [20]byte) bool { return set[addr] })
}

func TestCheckTradeWitnesses(t *testing.T) {
	trader := [20]byte{0x01}
	settings := params.Settings{
		Coordinator:         [20]byte{0x0C},
		WithdrawCoordinator: [20]byte{0x0D},
		State:               params.StateActive,
	}
	tests := []struct {
		name   string
		auth   Authorizer
		trader [20]byte
		want   error
	}{
		{name: "both", auth: signers(trader, settings.Coordinator), trader: trader},
		{name: "trader only", auth: signers(trader), trader: trader, want: ErrMissingSignature},
		{name: "coordinator only", auth: signers(settings.Coordinator), trader: trader, want: ErrMissingSignature},
		{name: "nil oracle", auth: nil, trader: trader, want: ErrMissingSignature},
		{name: "coordinator trading", auth: signers(settings.Coordinator), trader: settings.Coordinator, want: ErrCoordinatorParty},
		{name: "withdraw coordinator trading", auth: signers(settings.WithdrawCoordinator, settings.Coordinator), trader: settings.WithdrawCoordinator, want: ErrCoordinatorParty},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTradeWitnesses(tc.auth, settings, tc.trader)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestStateGuards(t *testing.T) {
	pending := params.Settings{State: params.StatePending}
	frozen := params.Settings{State: params.StateInactive}
	if RequireInitialized(pending) == nil {
		t.Fatalf("pending broker accepted")
	}
	if err := RequireInitialized(frozen); err != nil {
		t.Fatalf("frozen broker rejected: %v", err)
	}
	if RequireActive(frozen) == nil {
		t.Fatalf("frozen broker accepted for trading")
	}
}

func TestAnnouncementAged(t *testing.T) {
	if !AnnouncementAged(100, 160, 60) {
		t.Fatalf("expected aged at exact delay")
	}
	if AnnouncementAged(100, 159, 60) {
		t.Fatalf("aged too early")
	}
	if AnnouncementAged(100, 50, 0) {
		t.Fatalf("clock before announcement treated as aged")
	}
}
