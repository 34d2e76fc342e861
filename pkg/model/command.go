// Package model defines the core domain types of the relay.
package model

import "strings"

// CommandKind tags a decoded inbound line.
type CommandKind int

const (
	CommandChat CommandKind = iota
	CommandKick
	CommandBan
	CommandShutdown
	CommandMalformed
)

func (k CommandKind) String() string {
	switch k {
	case CommandChat:
		return "chat"
	case CommandKick:
		return "kick"
	case CommandBan:
		return "ban"
	case CommandShutdown:
		return "shutdown"
	case CommandMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

const (
	kickPrefix      = "KICK "
	banPrefix       = "BAN "
	shutdownLiteral = "SHUTDOWN"
)

// Command is one decoded application line.
//
//	Chat:      Text holds the message
//	Kick, Ban: Target holds the name
//	Malformed: Text holds the usage hint
type Command struct {
	Kind   CommandKind
	Target string
	Text   string
}

// Permission returns the permission a privileged command requires.
// ok is false for chat and malformed lines.
func (c Command) Permission() (perm Permission, ok bool) {
	switch c.Kind {
	case CommandKick:
		return PermKick, true
	case CommandBan:
		return PermBan, true
	case CommandShutdown:
		return PermShutdown, true
	default:
		return 0, false
	}
}

// ParseCommand decodes an inbound line once into a tagged command.
// A bare "KICK" or "BAN" (or one followed only by spaces) is malformed rather
// than chat, so a typo never leaks a privileged attempt into the room.
func ParseCommand(line string) Command {
	switch {
	case line == shutdownLiteral:
		return Command{Kind: CommandShutdown}
	case strings.HasPrefix(line, kickPrefix):
		return targeted(CommandKick, line[len(kickPrefix):], "usage: KICK <name>")
	case strings.HasPrefix(line, banPrefix):
		return targeted(CommandBan, line[len(banPrefix):], "usage: BAN <name>")
	case strings.TrimSpace(line) == "KICK":
		return Command{Kind: CommandMalformed, Text: "usage: KICK <name>"}
	case strings.TrimSpace(line) == "BAN":
		return Command{Kind: CommandMalformed, Text: "usage: BAN <name>"}
	default:
		return Command{Kind: CommandChat, Text: line}
	}
}

func targeted(kind CommandKind, rest, usage string) Command {
	target := strings.TrimSpace(rest)
	if target == "" {
		return Command{Kind: CommandMalformed, Text: usage}
	}
	return Command{Kind: kind, Target: target}
}
