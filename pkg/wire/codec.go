package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// MaxLineBytes bounds a single request line
const MaxLineBytes = 64 * 1024

// Decoder reads newline-delimited requests
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder wraps r
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	return &Decoder{sc: sc}
}

// Next returns the next request. io.EOF signals a clean end of input. A
// *SyntaxError means the line was skipped and decoding can continue.
func (d *Decoder) Next() (Request, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return Request{}, &SyntaxError{Err: err}
		}
		return req, nil
	}
	if err := d.sc.Err(); err != nil {
		return Request{}, fmt.Errorf("read request: %w", err)
	}
	return Request{}, io.EOF
}

// SyntaxError wraps a malformed request line
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string {
	return "malformed request: " + e.Err.Error()
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Encoder writes newline-delimited responses. Safe for concurrent use;
// asynchronous live-validation results share the stream with replies.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEncoder wraps w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Write encodes one response line
func (e *Encoder) Write(resp Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(resp)
}

// WriteData encodes a successful response carrying an arbitrary payload
func (e *Encoder) WriteData(id, op string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", op, err)
	}
	return e.Write(Response{ID: id, Op: op, OK: true, Data: raw})
}
