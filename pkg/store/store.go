// Package store persists the relay's ban list.
//
// Every backend implements BanStore. The line-oriented file backend is the
// default and the reference format: one banned name per line, appended on ban
// and read in full on every check, so edits made by hand take effect without a
// restart.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// ErrEmptyName is returned when a ban is added without a name.
var ErrEmptyName = errors.New("store: empty name")

// BanStore is the durable set of banned display names.
// Matching is exact and case-sensitive. Implementations are safe for
// concurrent use.
type BanStore interface {
	IsBanned(ctx context.Context, name string) (bool, error)
	Add(ctx context.Context, ban model.Ban) error
	List(ctx context.Context) ([]model.Ban, error)
	Close() error
}

// Compile-time checks.
var (
	_ BanStore = (*FileStore)(nil)
	_ BanStore = (*SQLStore)(nil)
	_ BanStore = (*RedisStore)(nil)
	_ BanStore = (*MemoryStore)(nil)
)

// DefaultSpec is the ban store used when none is configured.
const DefaultSpec = "file:bans.txt"

// Open opens the ban store described by spec:
//
//	file:PATH          line-oriented file (also any bare path)
//	sqlite:PATH        SQLite database
//	redis://HOST:PORT/DB
//	memory:            process-local, lost on exit
func Open(ctx context.Context, spec string) (BanStore, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSpec
	}

	switch {
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return OpenRedis(ctx, spec)
	case strings.HasPrefix(spec, "sqlite:"):
		return OpenSQL(ctx, strings.TrimPrefix(spec, "sqlite:"))
	case spec == "memory:" || spec == "memory":
		return NewMemory(), nil
	case strings.HasPrefix(spec, "file:"):
		return NewFile(strings.TrimPrefix(spec, "file:"))
	case strings.Contains(spec, "://"):
		return nil, fmt.Errorf("store: unsupported ban store %q", spec)
	default:
		return NewFile(spec)
	}
}

func validateBan(ban model.Ban) error {
	if ban.Name == "" {
		return ErrEmptyName
	}
	if strings.ContainsAny(ban.Name, "\r\n") {
		return fmt.Errorf("store: name %q contains a line break", ban.Name)
	}
	return nil
}

// sortBans orders bans by name and drops repeated names, keeping the first.
func sortBans(bans []model.Ban) []model.Ban {
	bans = lo.UniqBy(bans, func(b model.Ban) string { return b.Name })
	sort.Slice(bans, func(i, j int) bool { return bans[i].Name < bans[j].Name })
	return bans
}
