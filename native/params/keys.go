package params

const (
	// ParamsKeySettings stores the broker configuration aggregate.
	ParamsKeySettings = "broker/settings"
)

// MaxAnnounceDelay bounds the self-service timelock at seven days.
const MaxAnnounceDelay uint64 = 7 * 24 * 60 * 60
