// Package wirecodec frames protocol messages as text lines: a CBOR envelope,
// base64 encoded, terminated by a newline.
package wirecodec

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"seedmesh/swarm/protocol"

	"github.com/fxamacker/cbor/v2"
)

const (
	// MaxLineSize bounds a single encoded frame, terminator excluded.
	MaxLineSize = 1 << 20

	terminator = '\n'
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownKind = errors.New("unknown message kind")
	ErrTooLarge    = errors.New("frame too large")
)

var encoding = base64.StdEncoding

type Envelope struct {
	Kind protocol.Kind   `cbor:"1,keyasint,omitempty"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

var decMode = mustDecMode(cbor.DecOptions{
	DupMapKey:         cbor.DupMapKeyEnforcedAPF,
	ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	MaxArrayElements:  65536,
})

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// Marshal returns the framed line for msg, terminator included.
func Marshal(msg protocol.Message) ([]byte, error) {
	body, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wirecodec: encode %s body: %w", msg.Kind(), err)
	}
	env, err := cbor.Marshal(&Envelope{Kind: msg.Kind(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("wirecodec: encode %s envelope: %w", msg.Kind(), err)
	}
	line := encoding.AppendEncode(nil, env)
	if len(line) > MaxLineSize {
		return nil, fmt.Errorf("wirecodec: %s: %w", msg.Kind(), ErrTooLarge)
	}
	return append(line, terminator), nil
}

func Write(w io.Writer, msg protocol.Message) error {
	frame, err := Marshal(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Read decodes one line from r. io.EOF is returned untouched when the
// stream ends cleanly before a frame starts.
func Read(r *bufio.Reader) (protocol.Message, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(line)
}

// Unmarshal decodes a single line without its terminator.
func Unmarshal(line []byte) (protocol.Message, error) {
	raw, err := encoding.AppendDecode(nil, line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := &Envelope{}
	if err := decMode.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	return Unwrap(env)
}

// Unwrap decodes and validates the body of env.
func Unwrap(env *Envelope) (protocol.Message, error) {
	msg, ok := protocol.New(env.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, env.Kind)
	}
	if len(env.Body) == 0 {
		return nil, fmt.Errorf("%w: %s without body", ErrMalformed, env.Kind)
	}
	if err := decMode.Unmarshal(env.Body, msg); err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrMalformed, env.Kind, err)
	}
	if err := protocol.Validate(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice(terminator)
		line = append(line, chunk...)
		if len(line) > MaxLineSize+1 {
			return nil, ErrTooLarge
		}
		switch {
		case err == nil:
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: missing terminator", ErrMalformed)
		default:
			return nil, err
		}
	}
}
