// Package protocol defines the JSON messages exchanged over a transfer channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformed is returned for input that is not a well-formed message.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for a message whose type this node does not handle.
	ErrUnknownType = errors.New("unknown message type")
)

type envelope struct {
	Type MessageType `json:"type"`
}

type Codec struct {
	validate *validator.Validate
}

func NewCodec() *Codec {
	return &Codec{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	data, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return c.DecodeFromBytes(data)
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case *FileMetadata:
		payload = struct {
			Type MessageType `json:"type"`
			*FileMetadata
		}{m.Type(), m}
	case FileMetadata:
		payload = struct {
			Type MessageType `json:"type"`
			*FileMetadata
		}{m.Type(), &m}
	case *FileChunk:
		payload = struct {
			Type MessageType `json:"type"`
			*FileChunk
		}{m.Type(), m}
	case FileChunk:
		payload = struct {
			Type MessageType `json:"type"`
			*FileChunk
		}{m.Type(), &m}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
	return json.Marshal(payload)
}

// DecodeFromBytes parses one channel message. Messages with a missing or
// unrecognised type return ErrUnknownType; anything else that cannot be
// parsed or fails validation returns ErrMalformed.
func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	data = bytes.TrimSpace(data)

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	switch env.Type {
	case MsgFileMetadata:
		msg = &FileMetadata{}
	case MsgFileChunk:
		msg = &FileChunk{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(env.Type))
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if err := c.validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return msg, nil
}
