package client

import (
	"errors"
	"strings"
)

// ErrUnknownCommand is returned for a slash command the client does not know.
var ErrUnknownCommand = errors.New("client: unknown command")

// ParseInput turns a line typed by the user into the wire text to send.
// Slash commands map to protocol commands:
//
//	/kick NAME  -> KICK NAME
//	/ban NAME   -> BAN NAME
//	/shutdown   -> SHUTDOWN
//
// Anything else is sent verbatim. The server decides whether the sender may
// run a command; the client does not pre-filter.
func ParseInput(line string) (string, error) {
	if !strings.HasPrefix(line, "/") {
		return line, nil
	}
	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "kick":
		return strings.TrimSpace("KICK " + arg), nil
	case "ban":
		return strings.TrimSpace("BAN " + arg), nil
	case "shutdown":
		return "SHUTDOWN", nil
	default:
		return "", ErrUnknownCommand
	}
}
