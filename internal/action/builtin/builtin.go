// Package builtin ships the default action root and its handlers.
package builtin

import (
	"context"
	"embed"
	"io/fs"
	"strings"

	"actionrunner/internal/action"
)

//go:embed actions
var files embed.FS

// RootName labels the embedded root in definition locations.
const RootName = "builtin:actions"

// Root returns the embedded default action tree.
func Root() fs.FS {
	sub, err := fs.Sub(files, "actions")
	if err != nil {
		panic(err)
	}
	return sub
}

// Register adds every built-in handler type to reg.
func Register(reg *action.Registry) {
	reg.Register("Actions.Utils.RemoveNonAsciiChars", func() action.Handler { return action.Streaming(removeNonASCII) })
	reg.Register("Actions.Utils.Echo", func() action.Handler { return action.Streaming(echo) })
	reg.Register("Actions.Debug.Describe", func() action.Handler { return action.HandlerFunc(describe) })
}

func removeNonASCII(_ context.Context, x *action.Execution) error {
	x.SetResult(StripNonASCII(x.Arg(0)))
	return nil
}

// StripNonASCII drops every rune above U+007F.
func StripNonASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0x7f {
			return -1
		}
		return r
	}, s)
}

func echo(_ context.Context, x *action.Execution) error {
	sep, ok := x.Param("sep")
	if !ok {
		sep, _ = x.Descriptor().Param("sep")
	}
	parts := make([]string, 0, len(x.Args()))
	for _, a := range x.Args() {
		if p, isParam := a.(action.Param); isParam && p.Name == "sep" {
			continue
		}
		parts = append(parts, action.Stringify(a))
	}
	x.SetResult(strings.Join(parts, sep))
	return nil
}

func describe(_ context.Context, x *action.Execution) error {
	d := x.Descriptor()
	x.SetResult(
		"type", d.TypeName,
		"key", d.Key,
		"args", len(x.Args()),
		"direct", x.IsDirectRequest(),
	)
	return nil
}
