package model

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid inner space", "mary ann", nil},
		{"valid unicode", "ñoño", nil},
		{"valid max length", strings.Repeat("a", MaxNameLength), nil},
		{"empty", "", ErrNameEmpty},
		{"too long", strings.Repeat("a", MaxNameLength+1), ErrNameTooLong},
		{"leading space", " alice", ErrNameInvalidChars},
		{"trailing newline", "alice\n", ErrNameInvalidChars},
		{"tab character", "user\tname", ErrNameInvalidChars},
		{"escape sequence", "user\x1b[31m", ErrNameInvalidChars},
		{"invalid utf8", "\xff\xfe", ErrNameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want bool
	}{
		{"RoleRegular", RoleRegular, true},
		{"RoleAdmin", RoleAdmin, true},
		{"negative", Role(-1), false},
		{"large", Role(99), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Role(%d).Valid() = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleRegular, "regular"},
		{RoleAdmin, "admin"},
		{Role(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.role.String(); got != tt.want {
				t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
	}{
		{"admin", RoleAdmin},
		{"regular", RoleRegular},
		{"", RoleRegular},
		{"root", RoleRegular},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseRole(tt.input); got != tt.want {
				t.Errorf("ParseRole(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Command
	}{
		{"chat", "hi", Command{Kind: CommandChat, Text: "hi"}},
		{"chat empty", "", Command{Kind: CommandChat, Text: ""}},
		{"chat lowercase kick", "kick bob", Command{Kind: CommandChat, Text: "kick bob"}},
		{"chat kick prefix word", "KICKED out", Command{Kind: CommandChat, Text: "KICKED out"}},
		{"chat banana", "BANANA", Command{Kind: CommandChat, Text: "BANANA"}},
		{"chat shutdown suffix", "SHUTDOWN now", Command{Kind: CommandChat, Text: "SHUTDOWN now"}},
		{"kick", "KICK bob", Command{Kind: CommandKick, Target: "bob"}},
		{"kick spaced name", "KICK mary ann", Command{Kind: CommandKick, Target: "mary ann"}},
		{"kick trims", "KICK  bob ", Command{Kind: CommandKick, Target: "bob"}},
		{"ban", "BAN bob", Command{Kind: CommandBan, Target: "bob"}},
		{"shutdown", "SHUTDOWN", Command{Kind: CommandShutdown}},
		{"kick bare", "KICK", Command{Kind: CommandMalformed, Text: "usage: KICK <name>"}},
		{"kick blank target", "KICK   ", Command{Kind: CommandMalformed, Text: "usage: KICK <name>"}},
		{"ban bare", "BAN", Command{Kind: CommandMalformed, Text: "usage: BAN <name>"}},
		{"ban blank target", "BAN ", Command{Kind: CommandMalformed, Text: "usage: BAN <name>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.input); got != tt.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCommandPermission(t *testing.T) {
	if _, ok := ParseCommand("hello").Permission(); ok {
		t.Errorf("chat line should not require a permission")
	}
	if _, ok := ParseCommand("KICK").Permission(); ok {
		t.Errorf("malformed line should not require a permission")
	}
	perm, ok := ParseCommand("BAN bob").Permission()
	if !ok || perm != PermBan {
		t.Errorf("BAN permission = (%d, %v), want (%d, true)", perm, ok, PermBan)
	}
	perm, ok = ParseCommand("SHUTDOWN").Permission()
	if !ok || perm != PermShutdown {
		t.Errorf("SHUTDOWN permission = (%d, %v), want (%d, true)", perm, ok, PermShutdown)
	}
}
