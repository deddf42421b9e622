package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is the protocol token used on every request and status line.
const Version = "RTSP/1.0"

// DefaultTransport is the transport requested on SETUP.
const DefaultTransport = "RTP/UDP"

const clientPortParam = "client_port="

// Method is a control request name.
type Method string

// Supported methods.
const (
	MethodSetup    Method = "SETUP"
	MethodPlay     Method = "PLAY"
	MethodPause    Method = "PAUSE"
	MethodTeardown Method = "TEARDOWN"
)

// Request is a single control request.
// Transport and ClientPort are only rendered for SETUP; Session only once one is assigned.
type Request struct {
	Method     Method
	MediaID    string
	CSeq       int
	Transport  string
	ClientPort int
	Session    string
}

// NewSetupRequest builds the SETUP request that carries the client's datagram port.
func NewSetupRequest(mediaID string, cseq int, transport string, clientPort int) *Request {
	return &Request{
		Method:     MethodSetup,
		MediaID:    mediaID,
		CSeq:       cseq,
		Transport:  transport,
		ClientPort: clientPort,
	}
}

// NewRequest builds a request for an established session.
func NewRequest(method Method, mediaID string, cseq int, session string) *Request {
	return &Request{
		Method:  method,
		MediaID: mediaID,
		CSeq:    cseq,
		Session: session,
	}
}

// Marshal renders the request, including the blank line terminator.
func (r *Request) Marshal() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.MediaID, Version)
	fmt.Fprintf(&b, "CSeq: %d\r\n", r.CSeq)
	if r.Method == MethodSetup && r.Transport != "" {
		// the space after '=' is kept for servers that tokenize this line on whitespace
		fmt.Fprintf(&b, "Transport: %s; %s %d\r\n", r.Transport, clientPortParam, r.ClientPort)
	}
	if r.Session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", r.Session)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Write sends the request in a single write.
func (r *Request) Write(w io.Writer) error {
	_, err := w.Write(r.Marshal())
	return errors.Wrap(err, "write request failed")
}

// ReadRequest reads and parses one request. It is the server side of Marshal.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, errors.Wrap(err, "read request line failed")
	}
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, errors.Wrapf(ErrMalformedRequest, "request line %q", line)
	}
	if parts[2] != Version {
		return nil, errors.Wrapf(ErrMalformedRequest, "unsupported version %q", parts[2])
	}
	header, err := readHeader(br, ErrMalformedRequest)
	if err != nil {
		return nil, err
	}
	req := &Request{
		Method:  Method(parts[0]),
		MediaID: parts[1],
		Session: sessionValue(header["session"]),
	}
	if req.CSeq, err = strconv.Atoi(header["cseq"]); err != nil {
		return nil, errors.Wrapf(ErrMalformedRequest, "cseq %q", header["cseq"])
	}
	if transport, ok := header["transport"]; ok {
		if req.Transport, req.ClientPort, err = parseTransport(transport); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// parseTransport splits "RTP/UDP; client_port= 5000" into its protocol and port.
// Port ranges ("5000-5001") resolve to their first port.
func parseTransport(v string) (string, int, error) {
	proto, params, _ := strings.Cut(v, ";")
	idx := strings.Index(params, clientPortParam)
	if idx < 0 {
		return "", 0, errors.Wrapf(ErrMalformedRequest, "transport %q has no client port", v)
	}
	portStr := strings.TrimSpace(params[idx+len(clientPortParam):])
	if end := strings.IndexFunc(portStr, func(r rune) bool { return r < '0' || r > '9' }); end >= 0 {
		portStr = portStr[:end]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 0xffff {
		return "", 0, errors.Wrapf(ErrMalformedRequest, "transport %q has invalid client port", v)
	}
	return strings.TrimSpace(proto), port, nil
}
