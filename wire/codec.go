package wire

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Preallocation cap for container decoding. A length prefix larger than
// this is still honored, the buffer just grows as elements arrive, so a
// corrupt length cannot force a huge upfront allocation.
const preallocLimit = 1024

// Codec reads and writes msgpack-RPC messages over a byte stream.
//
// The read side must be driven by a single goroutine. The write side is
// internally locked and may be used from any number of goroutines; each
// message is written and flushed atomically with respect to the others.
type Codec struct {
	br  *bufio.Reader
	dec *msgpack.Decoder

	wmu sync.Mutex // protects bw and enc
	bw  *bufio.Writer
	enc *msgpack.Encoder

	rw io.ReadWriter
}

// NewCodec creates a codec over a bidirectional byte stream (an embedded
// child process over pipes, a socket, a net.Pipe end in tests).
func NewCodec(rw io.ReadWriter) *Codec {
	br := bufio.NewReader(rw)
	bw := bufio.NewWriter(rw)
	return &Codec{
		br:  br,
		dec: msgpack.NewDecoder(br),
		bw:  bw,
		enc: msgpack.NewEncoder(bw),
		rw:  rw,
	}
}

// Close closes the underlying stream if it supports closing.
func (c *Codec) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WriteRequest sends [0, id, method, args].
func (c *Codec) WriteRequest(id uint32, method string, args []any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.enc.EncodeArrayLen(4); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := c.enc.EncodeInt(int64(KindRequest)); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := c.enc.EncodeUint(uint64(id)); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := c.enc.EncodeString(method); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := c.writeArgs(args); err != nil {
		return fmt.Errorf("encode request args: %w", err)
	}
	return c.bw.Flush()
}

// WriteNotification sends [2, method, args]. No response will arrive and
// no correlation id is assigned.
func (c *Codec) WriteNotification(method string, args []any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.enc.EncodeArrayLen(3); err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := c.enc.EncodeInt(int64(KindNotification)); err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := c.enc.EncodeString(method); err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := c.writeArgs(args); err != nil {
		return fmt.Errorf("encode notification args: %w", err)
	}
	return c.bw.Flush()
}

// WriteResponse sends [1, id, errVal, result] correlated to an inbound
// request. Exactly one of errVal and result should be non-nil.
func (c *Codec) WriteResponse(id uint32, errVal, result any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.enc.EncodeArrayLen(4); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := c.enc.EncodeInt(int64(KindResponse)); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := c.enc.EncodeUint(uint64(id)); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := c.writeValue(errVal); err != nil {
		return fmt.Errorf("encode response error: %w", err)
	}
	if err := c.writeValue(result); err != nil {
		return fmt.Errorf("encode response result: %w", err)
	}
	return c.bw.Flush()
}

func (c *Codec) writeArgs(args []any) error {
	if err := c.enc.EncodeArrayLen(len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if err := c.writeValue(a); err != nil {
			return err
		}
	}
	return nil
}

// writeValue encodes one value, recursing into arrays and maps so that an
// Ext nested at any depth is emitted as a msgpack extension value.
func (c *Codec) writeValue(v any) error {
	switch x := v.(type) {
	case nil:
		return c.enc.EncodeNil()
	case bool:
		return c.enc.EncodeBool(x)
	case int:
		return c.enc.EncodeInt(int64(x))
	case int8:
		return c.enc.EncodeInt(int64(x))
	case int16:
		return c.enc.EncodeInt(int64(x))
	case int32:
		return c.enc.EncodeInt(int64(x))
	case int64:
		return c.enc.EncodeInt(x)
	case uint:
		return c.enc.EncodeUint(uint64(x))
	case uint8:
		return c.enc.EncodeUint(uint64(x))
	case uint16:
		return c.enc.EncodeUint(uint64(x))
	case uint32:
		return c.enc.EncodeUint(uint64(x))
	case uint64:
		return c.enc.EncodeUint(x)
	case float32:
		return c.enc.EncodeFloat32(x)
	case float64:
		return c.enc.EncodeFloat64(x)
	case string:
		return c.enc.EncodeString(x)
	case []byte:
		return c.enc.EncodeBytes(x)
	case Ext:
		if err := c.enc.EncodeExtHeader(x.Type, len(x.Data)); err != nil {
			return err
		}
		// The encoder writes straight through to bw, so the payload can
		// follow the header on the same writer.
		_, err := c.bw.Write(x.Data)
		return err
	case []any:
		if err := c.enc.EncodeArrayLen(len(x)); err != nil {
			return err
		}
		for _, item := range x {
			if err := c.writeValue(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if err := c.enc.EncodeMapLen(len(x)); err != nil {
			return err
		}
		for k, item := range x {
			if err := c.enc.EncodeString(k); err != nil {
				return err
			}
			if err := c.writeValue(item); err != nil {
				return err
			}
		}
		return nil
	default:
		// Anything else (slices of concrete types, structs) goes through
		// the generic encoder. Such values cannot contain an Ext.
		return c.enc.Encode(v)
	}
}

// ReadMessage reads the next complete message from the stream. It blocks
// until one arrives, the stream ends (io.EOF or the transport's close
// error), or a byte-level decode failure occurs. Structural problems in
// an otherwise well-formed msgpack value are reported as *DecodeError
// with the stream still aligned on the next message.
func (c *Codec) ReadMessage() (*Message, error) {
	v, err := c.readValue()
	if err != nil {
		return nil, err
	}
	return interpret(v)
}

// interpret maps a decoded top-level value onto the three message shapes.
func interpret(v any) (*Message, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("top-level value is %T, not an array", v), Value: v}
	}
	if len(arr) < 1 {
		return nil, &DecodeError{Reason: "empty message array", Value: v}
	}
	kind, ok := asKind(arr[0])
	if !ok {
		return nil, &DecodeError{Reason: fmt.Sprintf("message kind is %T, not an integer", arr[0]), Value: v}
	}

	switch kind {
	case KindRequest:
		if len(arr) != 4 {
			return nil, &DecodeError{Reason: fmt.Sprintf("request has %d elements, want 4", len(arr)), Value: v}
		}
		id, ok := asID(arr[1])
		if !ok {
			return nil, &DecodeError{Reason: "request id is not a valid msgid", Value: v}
		}
		method, ok := asMethod(arr[2])
		if !ok {
			return nil, &DecodeError{Reason: "request method is not a string", Value: v}
		}
		args, ok := arr[3].([]any)
		if !ok {
			return nil, &DecodeError{Reason: "request args is not an array", Value: v}
		}
		return &Message{Kind: KindRequest, ID: id, Method: method, Args: args}, nil

	case KindResponse:
		if len(arr) != 4 {
			return nil, &DecodeError{Reason: fmt.Sprintf("response has %d elements, want 4", len(arr)), Value: v}
		}
		id, ok := asID(arr[1])
		if !ok {
			return nil, &DecodeError{Reason: "response id is not a valid msgid", Value: v}
		}
		return &Message{Kind: KindResponse, ID: id, Err: arr[2], Result: arr[3]}, nil

	case KindNotification:
		if len(arr) != 3 {
			return nil, &DecodeError{Reason: fmt.Sprintf("notification has %d elements, want 3", len(arr)), Value: v}
		}
		method, ok := asMethod(arr[1])
		if !ok {
			return nil, &DecodeError{Reason: "notification method is not a string", Value: v}
		}
		args, ok := arr[2].([]any)
		if !ok {
			return nil, &DecodeError{Reason: "notification args is not an array", Value: v}
		}
		return &Message{Kind: KindNotification, Method: method, Args: args}, nil

	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message kind %d", int(kind)), Value: v}
	}
}

func asKind(v any) (Kind, bool) {
	switch n := v.(type) {
	case int64:
		return Kind(n), true
	case uint64:
		return Kind(n), true
	default:
		return 0, false
	}
}

func asID(v any) (uint32, bool) {
	switch n := v.(type) {
	case int64:
		if n < 0 || n > math.MaxUint32 {
			return 0, false
		}
		return uint32(n), true
	case uint64:
		if n > math.MaxUint32 {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

// asMethod accepts both string and binary method names; some hosts emit
// the latter.
func asMethod(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

// readValue decodes one msgpack value into the generic Go representation
// used throughout the session: nil, bool, int64, uint64 (only when the
// value exceeds int64), float64, string, []byte, []any, map[string]any
// and Ext. Extension payloads are read verbatim, never interpreted.
func (c *Codec) readValue() (any, error) {
	code, err := c.dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case code == msgpcode.Nil:
		return nil, c.dec.DecodeNil()

	case code == msgpcode.True || code == msgpcode.False:
		return c.dec.DecodeBool()

	case msgpcode.IsFixedNum(code),
		code == msgpcode.Int8, code == msgpcode.Int16,
		code == msgpcode.Int32, code == msgpcode.Int64,
		code == msgpcode.Uint8, code == msgpcode.Uint16,
		code == msgpcode.Uint32:
		return c.dec.DecodeInt64()

	case code == msgpcode.Uint64:
		n, err := c.dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		if n <= math.MaxInt64 {
			return int64(n), nil
		}
		return n, nil

	case code == msgpcode.Float, code == msgpcode.Double:
		return c.dec.DecodeFloat64()

	case msgpcode.IsString(code):
		return c.dec.DecodeString()

	case msgpcode.IsBin(code):
		return c.dec.DecodeBytes()

	case msgpcode.IsFixedArray(code), code == msgpcode.Array16, code == msgpcode.Array32:
		n, err := c.dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, min(n, preallocLimit))
		for i := 0; i < n; i++ {
			item, err := c.readValue()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil

	case msgpcode.IsFixedMap(code), code == msgpcode.Map16, code == msgpcode.Map32:
		n, err := c.dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, min(n, preallocLimit))
		for i := 0; i < n; i++ {
			rawKey, err := c.readValue()
			if err != nil {
				return nil, err
			}
			key, ok := asMethod(rawKey)
			if !ok {
				return nil, fmt.Errorf("%w: map key is %T, not a string", ErrMalformed, rawKey)
			}
			val, err := c.readValue()
			if err != nil {
				return nil, err
			}
			m[key] = val
		}
		return m, nil

	case msgpcode.IsExt(code):
		typ, length, err := c.dec.DecodeExtHeader()
		if err != nil {
			return nil, err
		}
		data := make([]byte, length)
		// The decoder consumes exactly the header bytes from br, so the
		// payload is next on the shared reader.
		if _, err := io.ReadFull(c.br, data); err != nil {
			return nil, err
		}
		return Ext{Type: typ, Data: data}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported msgpack code 0x%02x", ErrMalformed, code)
	}
}
