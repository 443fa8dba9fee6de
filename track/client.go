package track

import "time"

// TransportMode selects how a client consumes changes.
type TransportMode string

const (
	// ModePull means the client polls with Updates.
	ModePull TransportMode = "pull"
	// ModePush means the client receives debounced broadcasts.
	ModePush TransportMode = "push"
)

// Client is one observer's subscription state. A client views at most
// one entity at a time; its pushed version records how far delivery has
// progressed, whether by pull side effect, push broadcast, or explicit
// acknowledgement.
type Client struct {
	ID       string        `json:"id"`
	Mode     TransportMode `json:"mode"`
	Viewing  string        `json:"viewing,omitempty"`
	Pushed   int64         `json:"pushed_version"`
	LastSeen time.Time     `json:"last_seen"`
}
