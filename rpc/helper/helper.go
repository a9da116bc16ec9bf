package helper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// MaxFrameSize bounds a single frame so a corrupt length prefix cannot make
// the receiver allocate arbitrary memory.
const MaxFrameSize = 256 << 20

// maxFrame is MaxFrameSize, lowered in tests.
var maxFrame uint64 = MaxFrameSize

var errFrameTooLarge = errors.New("frame exceeds maximum size")

// Send sends a message wrapped in an Any to a net.Conn.
// format is:
//
//	| length (8 bytes) | payload (length bytes) |
func Send(conn net.Conn, msg *anypb.Any) error {
	bytes, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	length := uint64(len(bytes))
	if length > maxFrame {
		return fmt.Errorf("%w: %d bytes", errFrameTooLarge, length)
	}
	if err := binary.Write(conn, binary.BigEndian, length); err != nil {
		return err
	}
	if _, err := conn.Write(bytes); err != nil {
		return err
	}
	return nil
}

// Receive receives an Any from a net.Conn.
func Receive(conn net.Conn) (*anypb.Any, error) {
	var length uint64
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", errFrameTooLarge, length)
	}
	bytes := make([]byte, length)
	if _, err := io.ReadFull(conn, bytes); err != nil {
		return nil, err
	}
	msg := &anypb.Any{}
	if err := proto.Unmarshal(bytes, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// WrapMessage wraps a proto.Message into an Any.
func WrapMessage(msg proto.Message) *anypb.Any {
	payload, err := anypb.New(msg)
	if err != nil {
		panic(fmt.Sprint("anypb.New error:", err))
	}
	return payload
}

// ErrorMessage is the reply sent in place of a response when a request
// fails. Handlers must not use StringValue as a regular response.
func ErrorMessage(err error) *wrapperspb.StringValue {
	return wrapperspb.String(err.Error())
}

// AsError returns the error carried by msg, or nil if msg is a regular response.
func AsError(msg proto.Message) error {
	if e, ok := msg.(*wrapperspb.StringValue); ok {
		return errors.New(e.GetValue())
	}
	return nil
}
