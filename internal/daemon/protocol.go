package daemon

import (
	"github.com/omnitak/takcore/internal/chat"
	"github.com/omnitak/takcore/internal/store"
)

// The control protocol is newline-delimited JSON over the profile's
// Unix socket. Every request line gets exactly one response line,
// except "attach", which turns the connection into a transport pipe:
// the daemon writes Frame lines and reads Ack lines until the peer
// hangs up.

// Request ops.
const (
	OpSend     = "send"
	OpPosition = "position"
	OpIngest   = "ingest"
	OpReport   = "report"
	OpStats    = "stats"
	OpQuery    = "query"
	OpRetry    = "retry"
	OpCleanup  = "cleanup"
	OpFlush    = "flush"
	OpExport   = "export"
	OpImport   = "import"
	OpAttach   = "attach"
)

// Request is one control frame from a client.
type Request struct {
	Op string `json:"op"`

	// send
	Text              string `json:"text,omitempty"`
	RecipientUID      string `json:"recipient_uid,omitempty"`
	RecipientCallsign string `json:"recipient_callsign,omitempty"`

	// ingest
	XML string `json:"xml,omitempty"`

	// report
	UID       string `json:"uid,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`

	// query
	Direction   string `json:"direction,omitempty"`
	Status      string `json:"status,omitempty"`
	Type        string `json:"type,omitempty"`
	SinceMillis int64  `json:"since_millis,omitempty"`

	// export / import
	Path string `json:"path,omitempty"`
}

// Stats extends the persisted counters with live daemon state.
type Stats struct {
	store.Statistics
	WorkingSet     int   `json:"workingSet"`
	DecodeFailures int64 `json:"decodeFailures"`
}

// Response is one control frame back to a client.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Message  *chat.Message            `json:"message,omitempty"`
	Messages []store.PersistedMessage `json:"messages,omitempty"`
	Stats    *Stats                   `json:"stats,omitempty"`

	// retry / cleanup / import
	Attempted int `json:"attempted,omitempty"`
	Succeeded int `json:"succeeded,omitempty"`
	Removed   int `json:"removed,omitempty"`
	Added     int `json:"added,omitempty"`
}

// Frame carries one outbound wire event to the attached transport.
type Frame struct {
	UID string `json:"uid"`
	XML string `json:"xml"`
}

// Ack is the transport's delivery verdict for one Frame.
type Ack struct {
	UID   string `json:"uid"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func errResponse(err error) Response {
	return Response{Error: err.Error()}
}
