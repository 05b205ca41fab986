package ws

// BackpressureAction says what to do with a client whose send queue is full.
type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickClient
)

func (a BackpressureAction) String() string {
	if a == KickClient {
		return "kick"
	}
	return "drop"
}

type Policy interface {
	OnBackpressure(sid string) BackpressureAction
}

// DropPolicy loses the frame and keeps the client.
type DropPolicy struct{}

func (DropPolicy) OnBackpressure(string) BackpressureAction { return DropFrame }

// KickPolicy disconnects clients that cannot keep up.
type KickPolicy struct{}

func (KickPolicy) OnBackpressure(string) BackpressureAction { return KickClient }

// ParsePolicy maps a config name to a policy. Unknown names drop frames.
func ParsePolicy(name string) Policy {
	if name == KickClient.String() {
		return KickPolicy{}
	}
	return DropPolicy{}
}
