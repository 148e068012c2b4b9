package spend

import (
	"encoding/hex"

	"brokerchain/core/types"
	"brokerchain/crypto"
)

const (
	EventTypeSpenderApproved  = "spend.spender_approved"
	EventTypeSpenderRescinded = "spend.spender_rescinded"
	EventTypeSpenderAdded     = "spend.spender_added"
	EventTypeSpenderRemoved   = "spend.spender_removed"
	EventTypeWhitelistAdded   = "spend.whitelist_added"
	EventTypeWhitelistRemoved = "spend.whitelist_removed"
	EventTypeWhitelistSealed  = "spend.whitelist_sealed"
)

// NewSpenderEvent describes a spender whitelist or approval change. The owner
// is omitted for whitelist edits.
func NewSpenderEvent(evtType string, owner, spender [20]byte) *types.Event {
	attrs := map[string]string{"spender": crypto.FormatAddress(spender)}
	if owner != ([20]byte{}) {
		attrs["owner"] = crypto.FormatAddress(owner)
	}
	return &types.Event{Type: evtType, Attributes: attrs}
}

// NewWhitelistEvent describes a token whitelist edit.
func NewWhitelistEvent(evtType string, track Track, token [20]byte) *types.Event {
	return &types.Event{
		Type: evtType,
		Attributes: map[string]string{
			"track": track.String(),
			"token": hex.EncodeToString(token[:]),
		},
	}
}

// NewSealedEvent reports a permanently frozen track.
func NewSealedEvent(track Track) *types.Event {
	return &types.Event{Type: EventTypeWhitelistSealed, Attributes: map[string]string{"track": track.String()}}
}
