package model

type (
	Mode int

	ChannelSyncState struct {
		LastKnownSequence uint64
		Mode              Mode
		FetchInFlight     bool
	}
)

const (
	ModePolling Mode = iota
	ModePushing
)

func (m Mode) String() string {
	switch m {
	case ModePushing:
		return "pushing"
	default:
		return "polling"
	}
}
