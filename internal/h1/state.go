// Package h1 implements the byte-level HTTP/1.1 message codec: an
// incremental parser (C3) and a response writer (C4).
package h1

// State enumerates every state the incremental parser can be in. The
// set mirrors both the request-line and status-line entry points
// because the same machine shape serves request parsing (the
// connection manager's only use) and is kept complete rather than
// trimmed to request-only states.
type State int

const (
	ReqStart State = iota
	Method
	Target
	Version
	ReqLineEnd
	RespStart
	Status
	Reason
	StatusLineEnd
	HeaderStart
	HeaderName
	HeaderNameEnd
	HeaderValue
	HeaderValueEnd
	HeadersEnd
	FixedBody
	UnspecifiedBody
	ChunkStart
	ChunkSize
	ChunkExts
	ChunkHeaderEnd
	ChunkData
	ChunkDataRead
	ChunkDataEnd
	LastChunk
	ChunkedBodyEnd
	Trailers
	WebsocketHandoff
)

func (s State) String() string {
	names := [...]string{
		"ReqStart", "Method", "Target", "Version", "ReqLineEnd",
		"RespStart", "Status", "Reason", "StatusLineEnd",
		"HeaderStart", "HeaderName", "HeaderNameEnd", "HeaderValue", "HeaderValueEnd",
		"HeadersEnd", "FixedBody", "UnspecifiedBody",
		"ChunkStart", "ChunkSize", "ChunkExts", "ChunkHeaderEnd",
		"ChunkData", "ChunkDataRead", "ChunkDataEnd", "LastChunk", "ChunkedBodyEnd",
		"Trailers", "WebsocketHandoff",
	}
	if int(s) < 0 || int(s) >= len(names) {
		return "Unknown"
	}
	return names[s]
}

// BodyMode is the resolved handling for a message body once headers
// finish, per the priority order in the body-mode contract.
type BodyMode int

const (
	BodyNone BodyMode = iota
	BodyFixed
	BodyChunkedMode
	BodyUnspecified
)

// Mode selects which entry state the machine starts in; the server
// engine only ever uses ModeRequest.
type Mode int

const (
	ModeRequest Mode = iota
	ModeResponse
)

var methodSet = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"OPTIONS": true, "PATCH": true, "CONNECT": true, "TRACE": true,
}
