package withdraw

import (
	"fmt"
	"math/big"

	"brokerchain/native/ledger"
)

// Stage selects which pass over a pending external transfer is being approved.
type Stage uint8

const (
	// StageMark debits the ledger and reserves the transfer.
	StageMark Stage = iota + 1
	// StageWithdraw settles a reserved transfer.
	StageWithdraw
)

func (s Stage) String() string {
	switch s {
	case StageMark:
		return "mark"
	case StageWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// ParseStage maps a stage name to its value.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "mark":
		return StageMark, nil
	case "withdraw":
		return StageWithdraw, nil
	default:
		return 0, fmt.Errorf("unknown withdrawal stage %q", s)
	}
}

// Output is one destination of a pending external transfer.
type Output struct {
	Address [20]byte
	Asset   ledger.AssetID
	Amount  *big.Int
}

// Request models the pending external transfer a withdrawal stage approves.
// ID identifies the transfer itself; Inputs reference earlier transfers whose
// value it spends.
type Request struct {
	ID      [32]byte
	Stage   Stage
	Address [20]byte
	Asset   ledger.AssetID
	Amount  *big.Int
	Inputs  [][32]byte
	Outputs []Output
}

// Announcement is a self-service withdrawal intent.
type Announcement struct {
	Address     [20]byte
	Asset       ledger.AssetID
	AnnouncedAt uint64
	Amount      *big.Int
}

// Reservation binds a marked transfer to the owner whose balance funded it.
type Reservation struct {
	ID      [32]byte
	Address [20]byte
	Asset   ledger.AssetID
	Amount  *big.Int
}

// Result reports the outcome of an approved stage.
type Result struct {
	Stage   Stage
	Address [20]byte
	Asset   ledger.AssetID
	Amount  *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
