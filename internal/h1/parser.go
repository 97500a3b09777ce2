package h1

import (
	"strconv"
	"strings"

	"github.com/zendrift/httpcore/internal/herrors"
)

// Parser is the incremental HTTP/1.1 message state machine described by
// the State enum. It never blocks: Feed consumes as much of data as
// forms complete tokens and returns the events produced plus how many
// bytes it consumed. Any unconsumed remainder is the caller's
// responsibility to carry forward (typically via bufpool.Buffer's
// Compact), since Feed may stop mid-token waiting for more bytes.
type Parser struct {
	mode Mode

	maxURLSize     int
	maxHeadersSize int

	state State
	req   *Request

	methodBuf strings.Builder
	targetBuf strings.Builder
	versionBuf strings.Builder

	headerNameBuf  strings.Builder
	headerValueBuf strings.Builder
	currentName    string
	headersUsed    int

	statusBuf strings.Builder
	reasonBuf strings.Builder
	statusCode int

	chunkSizeBuf   strings.Builder
	chunkExtSeen   bool
	chunkRemaining int64

	trailers     Header
	trailersMode bool

	bodyRemaining int64 // for FixedBody
}

// NewParser creates a Parser that starts at the request-line or
// status-line entry state depending on mode.
func NewParser(mode Mode, maxURLSize, maxHeadersSize int) *Parser {
	p := &Parser{mode: mode, maxURLSize: maxURLSize, maxHeadersSize: maxHeadersSize}
	p.resetMessage()
	return p
}

func (p *Parser) resetMessage() {
	if p.mode == ModeRequest {
		p.state = ReqStart
	} else {
		p.state = RespStart
	}
	p.req = &Request{Headers: Header{}}
	p.methodBuf.Reset()
	p.targetBuf.Reset()
	p.versionBuf.Reset()
	p.headerNameBuf.Reset()
	p.headerValueBuf.Reset()
	p.currentName = ""
	p.headersUsed = 0
	p.statusBuf.Reset()
	p.reasonBuf.Reset()
	p.statusCode = 0
	p.chunkSizeBuf.Reset()
	p.chunkExtSeen = false
	p.chunkRemaining = 0
	p.trailers = nil
	p.trailersMode = false
}

// State reports the machine's current state, mostly useful for tests.
func (p *Parser) State() State { return p.state }

// Feed processes data and returns the events produced plus the number
// of leading bytes consumed. A zero-length consumed count with no
// error means the parser needs more bytes before it can make progress
// (e.g. mid-token).
func (p *Parser) Feed(data []byte) ([]Event, int, error) {
	var events []Event
	i := 0
	for {
		before := p.state
		n, ev, err := p.step(data[i:])
		if err != nil {
			return events, i, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
		i += n
		// Some transitions (e.g. ReqStart -> Method) consume no bytes;
		// keep driving the machine through those for free. Stop once a
		// state produces neither progress nor a transition, which means
		// it is genuinely waiting on more bytes than data has left.
		if n == 0 && p.state == before {
			break
		}
	}
	return events, i, nil
}

// step processes the states that can be driven one codepoint (or, for
// body/data states, one contiguous span) at a time from the front of
// buf, returning how many bytes it consumed.
func (p *Parser) step(buf []byte) (int, *Event, error) {
	switch p.state {
	case ReqStart:
		p.state = Method
		return 0, nil, nil
	case Method:
		return p.stepToken(buf, &p.methodBuf, ' ', Target, p.onMethodDone)
	case Target:
		return p.stepTarget(buf)
	case Version:
		if p.mode == ModeRequest {
			return p.stepToken(buf, &p.versionBuf, '\r', ReqLineEnd, p.onVersionDone)
		}
		return p.stepToken(buf, &p.versionBuf, ' ', Status, p.onVersionDone)
	case ReqLineEnd:
		return p.stepCRLF(buf, HeaderStart)

	case RespStart:
		p.state = Version
		return 0, nil, nil
	case Status:
		return p.stepToken(buf, &p.statusBuf, ' ', Reason, p.onStatusDone)
	case Reason:
		return p.stepToken(buf, &p.reasonBuf, '\r', StatusLineEnd, nil)
	case StatusLineEnd:
		return p.stepCRLF(buf, HeaderStart)

	case HeaderStart:
		return p.stepHeaderStart(buf)
	case HeaderName:
		return p.stepHeaderName(buf)
	case HeaderNameEnd:
		return p.stepHeaderNameEnd(buf)
	case HeaderValue:
		return p.stepHeaderValue(buf)
	case HeaderValueEnd:
		return p.stepCRLF(buf, HeaderStart)
	case HeadersEnd:
		return p.enterBody()

	case FixedBody:
		return p.stepFixedBody(buf)
	case UnspecifiedBody:
		return p.stepUnspecifiedBody(buf)

	case ChunkStart:
		p.state = ChunkSize
		return 0, nil, nil
	case ChunkSize:
		return p.stepChunkSize(buf)
	case ChunkExts:
		return p.stepChunkExts(buf)
	case ChunkHeaderEnd:
		return p.stepChunkHeaderEnd(buf)
	case ChunkData:
		return p.stepChunkData(buf)
	case ChunkDataRead:
		p.state = ChunkDataEnd
		return 0, nil, nil
	case ChunkDataEnd:
		return p.stepCRLF(buf, ChunkStart)
	case LastChunk:
		return p.stepLastChunk(buf)
	case ChunkedBodyEnd:
		ev := &Event{Kind: EventEndOfBody}
		p.resetMessage()
		return 0, ev, nil
	case Trailers:
		return p.stepHeaderStart(buf)

	case WebsocketHandoff:
		// Terminal: bytes from here belong to the application, not us.
		return 0, nil, nil
	}
	return 0, nil, herrors.Internal("h1.parser", "unreachable state "+p.state.String(), nil)
}

func (p *Parser) stepToken(buf []byte, dst *strings.Builder, delim byte, next State, onDone func()) (int, *Event, error) {
	for i, b := range buf {
		if b == delim {
			if onDone != nil {
				onDone()
			}
			p.state = next
			return i + 1, nil, nil
		}
		dst.WriteByte(b)
	}
	return len(buf), nil, nil
}

func (p *Parser) onMethodDone() {
	m := p.methodBuf.String()
	p.req.Method = m
	p.req.MethodInvalid = !methodSet[m]
}

func (p *Parser) onVersionDone() {
	p.req.Version = p.versionBuf.String()
}

func (p *Parser) onStatusDone() {
	code, _ := strconv.Atoi(p.statusBuf.String())
	p.statusCode = code
}

// stepTarget accumulates the request-target, enforcing max_url_size
// while still consuming the remainder once the limit is crossed so the
// parser can reach the next valid state.
func (p *Parser) stepTarget(buf []byte) (int, *Event, error) {
	for i, b := range buf {
		if b == ' ' {
			p.onTargetDone()
			p.state = Version
			return i + 1, nil, nil
		}
		if p.targetBuf.Len() < p.maxURLSize {
			p.targetBuf.WriteByte(b)
		} else {
			p.req.URITooLong = true
		}
	}
	return len(buf), nil, nil
}

func (p *Parser) onTargetDone() {
	raw := p.targetBuf.String()
	if _, path, ok := absoluteFormAuthority(raw); ok {
		p.req.RedirectTarget = path
	}
	p.req.Target = decodeUnreservedEscapes(raw)
}

func (p *Parser) stepCRLF(buf []byte, next State) (int, *Event, error) {
	// We only ever land here right after consuming the delimiter that
	// triggered the transition (a space or the CR itself for version),
	// so this state just eats the trailing \n.
	for i, b := range buf {
		if b == '\n' {
			p.state = next
			return i + 1, nil, nil
		}
		if b != '\r' {
			return i + 1, nil, herrors.InvalidRequest(400, "h1.parser", "malformed line terminator")
		}
	}
	return len(buf), nil, nil
}

func (p *Parser) stepHeaderStart(buf []byte) (int, *Event, error) {
	if len(buf) == 0 {
		return 0, nil, nil
	}
	if buf[0] != '\r' {
		p.state = HeaderName
		return 0, nil, nil
	}
	if len(buf) < 2 {
		return 0, nil, nil
	}
	if buf[1] != '\n' {
		return 2, nil, herrors.InvalidRequest(400, "h1.parser", "malformed headers terminator")
	}
	if p.trailersMode {
		ev := &Event{Kind: EventEndOfBody}
		if p.trailers != nil {
			ev = &Event{Kind: EventTrailers, Trailers: p.trailers}
		}
		p.resetMessage()
		return 2, ev, nil
	}
	p.state = HeadersEnd
	return 2, nil, nil
}

func (p *Parser) countHeaderByte() error {
	p.headersUsed++
	if p.headersUsed > p.maxHeadersSize {
		return herrors.InvalidRequest(431, "h1.parser", "request header fields too large")
	}
	return nil
}

func (p *Parser) stepHeaderName(buf []byte) (int, *Event, error) {
	for i, b := range buf {
		if b == ':' {
			p.currentName = strings.ToLower(p.headerNameBuf.String())
			p.headerNameBuf.Reset()
			if p.currentName == "" {
				return i + 1, nil, herrors.InvalidRequest(400, "h1.parser", "empty header name")
			}
			p.state = HeaderNameEnd
			return i + 1, nil, nil
		}
		if err := p.countHeaderByte(); err != nil {
			return i + 1, nil, err
		}
		p.headerNameBuf.WriteByte(toLower(b))
	}
	return len(buf), nil, nil
}

func toLower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func (p *Parser) stepHeaderNameEnd(buf []byte) (int, *Event, error) {
	for i, b := range buf {
		if b == ' ' || b == '\t' {
			continue
		}
		p.state = HeaderValue
		return i, nil, nil
	}
	return len(buf), nil, nil
}

func (p *Parser) stepHeaderValue(buf []byte) (int, *Event, error) {
	for i, b := range buf {
		if b == '\r' {
			value := strings.TrimRight(p.headerValueBuf.String(), " \t")
			p.headerValueBuf.Reset()
			if p.trailersMode {
				if p.trailers == nil {
					p.trailers = Header{}
				}
				p.trailers.Add(p.currentName, value)
			} else {
				p.req.Headers.Add(p.currentName, value)
			}
			p.state = HeaderValueEnd
			return i + 1, nil, nil
		}
		if err := p.countHeaderByte(); err != nil {
			return i + 1, nil, err
		}
		p.headerValueBuf.WriteByte(b)
	}
	return len(buf), nil, nil
}

// enterBody resolves the body mode and hands the completed request to
// the caller. BodyNone (explicit Content-Length: 0, HEAD, CONNECT)
// never transitions through FixedBody/UnspecifiedBody/ChunkStart at
// all, so a zero-length request body is observed as RequestComplete
// without the exchange ever entering a body-streaming state.
func (p *Parser) enterBody() (int, *Event, error) {
	p.resolveBodyMode()
	ev := &Event{Kind: EventNewRequest, Request: p.req}
	switch p.req.BodyMode {
	case BodyFixed:
		p.bodyRemaining = p.req.ContentLength
		p.state = FixedBody
	case BodyChunkedMode:
		p.state = ChunkStart
	case BodyUnspecified:
		p.state = UnspecifiedBody
	default:
		p.state = ReqStart
	}
	return 0, ev, nil
}

func (p *Parser) resolveBodyMode() {
	h := p.req.Headers
	if strings.EqualFold(h.Get("transfer-encoding"), "chunked") {
		p.req.BodyMode = BodyChunkedMode
		return
	}
	if cl := h.Get("content-length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err == nil && n >= 0 {
			p.req.ContentLength = n
			if n == 0 {
				p.req.BodyMode = BodyNone
				return
			}
			p.req.BodyMode = BodyFixed
			return
		}
	}
	if p.mode == ModeRequest {
		if p.req.Method == "HEAD" || p.req.Method == "CONNECT" {
			p.req.BodyMode = BodyNone
			return
		}
		p.req.BodyMode = BodyNone
		return
	}
	switch p.statusCode {
	case 204, 304:
		p.req.BodyMode = BodyNone
		return
	}
	if p.statusCode >= 100 && p.statusCode < 200 {
		p.req.BodyMode = BodyNone
		return
	}
	p.req.BodyMode = BodyUnspecified
}

func (p *Parser) stepFixedBody(buf []byte) (int, *Event, error) {
	if p.bodyRemaining <= 0 {
		p.resetMessage()
		return 0, &Event{Kind: EventEndOfBody}, nil
	}
	n := int64(len(buf))
	last := false
	if n >= p.bodyRemaining {
		n = p.bodyRemaining
		last = true
	}
	p.bodyRemaining -= n
	chunk := buf[:n]
	if last {
		p.resetMessage()
	}
	return int(n), &Event{Kind: EventBodyChunk, Chunk: chunk, Last: last}, nil
}

func (p *Parser) stepUnspecifiedBody(buf []byte) (int, *Event, error) {
	if len(buf) == 0 {
		return 0, nil, nil
	}
	return len(buf), &Event{Kind: EventBodyChunk, Chunk: buf, Last: false}, nil
}

func (p *Parser) stepChunkSize(buf []byte) (int, *Event, error) {
	for i, b := range buf {
		switch {
		case isHex(b):
			p.chunkSizeBuf.WriteByte(b)
		case b == ';':
			p.state = ChunkExts
			return i + 1, nil, nil
		case b == '\r':
			if err := p.finishChunkSize(); err != nil {
				return i + 1, nil, err
			}
			p.state = ChunkHeaderEnd
			return i + 1, nil, nil
		default:
			return i + 1, nil, herrors.InvalidRequest(400, "h1.parser", "malformed chunk size")
		}
	}
	return len(buf), nil, nil
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func (p *Parser) finishChunkSize() error {
	n, err := strconv.ParseInt(p.chunkSizeBuf.String(), 16, 64)
	p.chunkSizeBuf.Reset()
	if err != nil {
		return herrors.InvalidRequest(400, "h1.parser", "malformed chunk size")
	}
	p.chunkRemaining = n
	return nil
}

func (p *Parser) stepChunkExts(buf []byte) (int, *Event, error) {
	// Extensions after ';' are accepted and discarded entirely.
	for i, b := range buf {
		if b == '\r' {
			if err := p.finishChunkSize(); err != nil {
				return i + 1, nil, err
			}
			p.state = ChunkHeaderEnd
			return i + 1, nil, nil
		}
	}
	return len(buf), nil, nil
}

func (p *Parser) stepChunkHeaderEnd(buf []byte) (int, *Event, error) {
	n, _, err := p.feedCRLFOnly(buf)
	if err != nil {
		return n, nil, err
	}
	if n == 0 {
		return 0, nil, nil
	}
	if p.chunkRemaining == 0 {
		p.state = LastChunk
	} else {
		p.state = ChunkData
	}
	return n, nil, nil
}

func (p *Parser) feedCRLFOnly(buf []byte) (int, *Event, error) {
	for i, b := range buf {
		if b == '\n' {
			return i + 1, nil, nil
		}
		if b != '\r' {
			return i + 1, nil, herrors.InvalidRequest(400, "h1.parser", "malformed chunk terminator")
		}
	}
	return 0, nil, nil
}

func (p *Parser) stepChunkData(buf []byte) (int, *Event, error) {
	n := int64(len(buf))
	if n > p.chunkRemaining {
		n = p.chunkRemaining
	}
	p.chunkRemaining -= n
	chunk := buf[:n]
	if p.chunkRemaining == 0 {
		p.state = ChunkDataRead
	}
	return int(n), &Event{Kind: EventBodyChunk, Chunk: chunk, Last: false}, nil
}

func (p *Parser) stepLastChunk(buf []byte) (int, *Event, error) {
	// After the 0-size chunk we either see an immediate CRLF (no
	// trailers) or a trailer header block.
	if len(buf) == 0 {
		return 0, nil, nil
	}
	if buf[0] == '\r' {
		n, _, err := p.feedCRLFOnly(buf)
		if err != nil || n == 0 {
			return n, nil, err
		}
		// No trailer block; the dedicated ChunkedBodyEnd state emits the
		// single terminal event and resets for the next message.
		p.state = ChunkedBodyEnd
		return n, nil, nil
	}
	p.trailersMode = true
	p.state = Trailers
	return 0, nil, nil
}
