// Package protocol defines the relay's frame format and handshake tokens.
//
// Every handshake token and every application message travels as one frame:
//
//	[4-byte big-endian length][payload]
//
// Handshake payloads are plaintext. Application payloads are cipher tokens.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum frame payload size (64KB).
const MaxFrameSize = 65536

// Handshake tokens sent by the server.
const (
	TokenName     = "NAME"
	TokenPassword = "PASSWORD"
	TokenBan      = "BAN"
	TokenTaken    = "TAKEN"
	TokenInvalid  = "INVALID"

	IncorrectPassword = "Incorrect Password"
	WelcomeAdmin      = "Welcome admin"
	Connected         = "Connected to the server"
)

// Notices carried on the encrypted application channel.
const (
	CommandRefused  = "Command was refused!"
	MessageFlagged  = "Your message was flagged as inappropriate."
	DecryptFailed   = "Message could not be decrypted."
	ShuttingDown    = "Server is shutting down..."
	KickedNotice    = "You were kicked from the chat."
	BannedNotice    = "You were banned from the chat."
	malformedPrefix = "Malformed command: "
)

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// JoinedNotice announces a new session to the others.
func JoinedNotice(name string) string { return name + " has joined the chat!" }

// LeftNotice announces a session that disconnected or failed a send.
func LeftNotice(name string) string { return name + " has left the chat." }

// KickedBroadcast announces a kicked session.
func KickedBroadcast(name string) string { return name + " was kicked." }

// BannedBroadcast announces a banned session.
func BannedBroadcast(name string) string { return name + " was banned." }

// ChatLine formats a relayed chat message.
func ChatLine(name, text string) string { return name + ": " + text }

// MalformedNotice explains a privileged command that could not be decoded.
func MalformedNotice(usage string) string { return malformedPrefix + usage }

// WriteFrame writes a length-prefixed payload to a writer.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload))) //nolint:gosec // length already bounds-checked above
	copy(buf[4:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// WriteString writes a string payload as a single frame.
func WriteString(w io.Writer, s string) error {
	return WriteFrame(w, []byte(s))
}

// ReadFrame reads a length-prefixed payload from a reader.
// A peer that closes cleanly between frames yields io.EOF unwrapped.
func ReadFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return data, nil
}

// ReadString reads one frame as a string.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
