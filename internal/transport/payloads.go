package transport

import "github.com/dosco/livequery/internal/snapshot"

// modeEvents/modeSnapshot are the wire spellings of snapshot.Mode.
const (
	modeEvents   = "events"
	modeSnapshot = "snapshot"
)

func modeToWire(m snapshot.Mode) string {
	if m == snapshot.ModeSnapshot {
		return modeSnapshot
	}
	return modeEvents
}

func modeFromWire(s string) snapshot.Mode {
	if s == modeSnapshot {
		return snapshot.ModeSnapshot
	}
	return snapshot.ModeEvents
}

// subscribeRequest is the body of a P.<sub_id>.subscribe request.
type subscribeRequest struct {
	SubscriptionID  string   `json:"subscription_id"`
	Query           string   `json:"query"`
	IdentityColumns []string `json:"identity_columns,omitempty"`
	Mode            string   `json:"mode,omitempty"`
}

// subscribeResponse is the reply to a subscribe request.
type subscribeResponse struct {
	Success        bool             `json:"success"`
	Error          string           `json:"error,omitempty"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	Subject        string           `json:"subject,omitempty"`
	IsNew          bool             `json:"is_new,omitempty"`
	Seq            uint64           `json:"seq,omitempty"`
	Mode           string           `json:"mode,omitempty"`
	Snapshot       []snapshot.Event `json:"snapshot,omitempty"`
	Rows           []map[string]any `json:"rows,omitempty"`
}

func errResponse(msg string) subscribeResponse {
	return subscribeResponse{Success: false, Error: msg}
}

// simpleResponse answers unsubscribe/heartbeat requests with a bare
// success flag.
type simpleResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// healthResponse answers P.health.
type healthResponse struct {
	Status        string `json:"status"`
	ServerID      string `json:"server_id"`
	Subscriptions int    `json:"subscriptions"`
	Queries       int    `json:"queries"`
	MsgsIn        uint64 `json:"msgs_in"`
	MsgsOut       uint64 `json:"msgs_out"`
}

// The events-mode and snapshot-mode publish bodies are snapshot.Batch and
// snapshot.RowsBatch respectively: the dispatcher marshals one of those
// once per batch and hands the bytes to Transport.PublishEvents/
// PublishSnapshot, so no publish-body type lives in this package.
