package app

import (
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"actionrunner/internal/action"
	"actionrunner/internal/action/builtin"
	"actionrunner/internal/config"
	"actionrunner/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapRegistryRoot returns the default root: a directory when configured,
// otherwise the embedded built-in definitions.
func mapRegistryRoot(cfg *config.Config) (fs.FS, string) {
	root := strings.TrimSpace(cfg.Registry.DefaultRoot)
	if root == "" {
		return builtin.Root(), builtin.RootName
	}
	return os.DirFS(root), filepath.ToSlash(filepath.Clean(root))
}

// syncAliases makes the registry aliases match paths. Aliases registered
// by trigger entries at runtime are left alone unless they were configured
// before and are gone now.
func syncAliases(reg *action.Registry, prev, paths map[string]string) {
	for alias := range prev {
		if _, ok := paths[alias]; !ok {
			reg.UnregisterPath(alias)
		}
	}
	for alias, root := range paths {
		reg.RegisterPath(alias, root)
	}
}

func clonePaths(paths map[string]string) map[string]string {
	if paths == nil {
		return map[string]string{}
	}
	return maps.Clone(paths)
}
