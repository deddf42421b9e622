package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Status codes used by the client and the demo server.
const (
	StatusOK                    = 200
	StatusBadRequest            = 400
	StatusNotFound              = 404
	StatusSessionNotFound       = 454
	StatusMethodNotValidInState = 455
	StatusInternalServerError   = 500
	StatusServiceUnavailable    = 503
	StatusGatewayTimeout        = 504
	StatusVersionNotSupported   = 505
)

const (
	headerCSeq    = "cseq"
	headerSession = "session"
)

var statusText = map[int]string{
	StatusOK:                    "OK",
	StatusBadRequest:            "Bad Request",
	StatusNotFound:              "Not Found",
	StatusSessionNotFound:       "Session Not Found",
	StatusMethodNotValidInState: "Method Not Valid in This State",
	StatusInternalServerError:   "Internal Server Error",
	StatusServiceUnavailable:    "Service Unavailable",
	StatusGatewayTimeout:        "Gateway Timeout",
	StatusVersionNotSupported:   "RTSP Version Not Supported",
}

// StatusText returns the reason phrase for a status code.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

// Response is a parsed control response. Header names are lowercased.
type Response struct {
	Code    int
	Message string
	CSeq    int
	Session string
	Header  map[string]string
}

// NewResponse builds a response for the given request sequence number.
func NewResponse(code int, cseq int, session string) *Response {
	return &Response{
		Code:    code,
		Message: StatusText(code),
		CSeq:    cseq,
		Session: session,
	}
}

// ReadResponse reads a status line followed by a header block terminated by a blank line.
// The whole block is consumed before the status code is checked so the stream stays aligned
// for the next response. A non-200 code is returned as *ServerError together with the response.
func ReadResponse(br *bufio.Reader) (*Response, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, errors.Wrap(err, "read status line failed")
	}
	header, err := readHeader(br, ErrMalformedResponse)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, errors.Wrapf(ErrMalformedResponse, "status line %q: expected version, code and message", line)
	}
	if parts[0] != Version {
		return nil, errors.Wrapf(ErrMalformedResponse, "status line %q: expected %s", line, Version)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "status line %q: invalid code", line)
	}
	res := &Response{
		Code:    code,
		Message: strings.TrimSpace(parts[2]),
		Session: sessionValue(header[headerSession]),
		Header:  header,
	}
	if v, ok := header[headerCSeq]; ok {
		if res.CSeq, err = strconv.Atoi(v); err != nil {
			return nil, errors.Wrapf(ErrMalformedResponse, "cseq %q", v)
		}
	}
	if res.Code != StatusOK {
		return res, &ServerError{Code: res.Code, Message: res.Message}
	}
	return res, nil
}

// Marshal renders the response, including the blank line terminator.
func (r *Response) Marshal() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", Version, r.Code, r.Message)
	fmt.Fprintf(&b, "CSeq: %d\r\n", r.CSeq)
	if r.Session != "" {
		fmt.Fprintf(&b, "Session: %s\r\n", r.Session)
	}
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		if name == headerCSeq || name == headerSession {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\r\n", name, r.Header[name])
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Write sends the response in a single write.
func (r *Response) Write(w io.Writer) error {
	_, err := w.Write(r.Marshal())
	return errors.Wrap(err, "write response failed")
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readHeader reads up to and including the blank line that ends a header block.
// A malformed line is reported only once the block has been consumed.
func readHeader(br *bufio.Reader, malformed error) (map[string]string, error) {
	header := make(map[string]string)
	var bad error
	for {
		line, err := readLine(br)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrap(err, "read header failed")
		}
		if strings.TrimSpace(line) == "" {
			if bad != nil {
				return nil, bad
			}
			return header, nil
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			if bad == nil {
				bad = errors.Wrapf(malformed, "header line %q", line)
			}
			continue
		}
		header[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
}

// sessionValue drops any ";timeout=..." style parameters from a Session header.
func sessionValue(v string) string {
	id, _, _ := strings.Cut(v, ";")
	return strings.TrimSpace(id)
}
