// Package version reports the build's version.
//
// Release builds stamp it with ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/gorelay/pkg/version.tag=v1.0.0
//	  -X github.com/NicolasHaas/gorelay/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/gorelay/pkg/version.date=2026-01-01"
//
// Without ldflags the VCS stamp the go tool embeds is used, if any.
package version

import (
	"runtime/debug"
	"sync"
)

var (
	tag    = ""
	commit = ""
	date   = ""
)

// Info is the resolved build identity.
type Info struct {
	Tag      string // release tag, e.g. "v0.2.0"
	Commit   string // short revision
	Date     string // ISO 8601 build or commit time
	Modified bool   // built from a dirty tree
}

var resolve = sync.OnceValue(func() Info {
	return fromBuildInfo(Info{Tag: tag, Commit: commit, Date: date}, debug.ReadBuildInfo)
})

// fromBuildInfo fills fields missing from in using the embedded VCS settings.
func fromBuildInfo(in Info, read func() (*debug.BuildInfo, bool)) Info {
	if in.Commit != "" {
		return in
	}
	bi, ok := read()
	if !ok {
		return in
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			in.Commit = s.Value
			if len(in.Commit) > 7 {
				in.Commit = in.Commit[:7]
			}
		case "vcs.time":
			if in.Date == "" {
				in.Date = s.Value
			}
		case "vcs.modified":
			in.Modified = s.Value == "true"
		}
	}
	return in
}

// Get returns the build identity.
func Get() Info { return resolve() }

// String returns the tag, else the commit, else "dev".
func String() string { return Get().String() }

// Full returns "tag (commit) built date", degrading to what is known.
func Full() string { return Get().Full() }

func (i Info) String() string {
	switch {
	case i.Tag != "":
		return i.Tag
	case i.Commit != "":
		if i.Modified {
			return i.Commit + "-dirty"
		}
		return i.Commit
	default:
		return "dev"
	}
}

func (i Info) Full() string {
	out := i.String()
	if i.Tag != "" && i.Commit != "" {
		out += " (" + i.Commit + ")"
	}
	if i.Date != "" && out != "dev" {
		out += " built " + i.Date
	}
	return out
}
