// Package file manages paths directly through the filesystem: regular files,
// directories, touch, and removal, with optional mode enforcement.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/module"
)

// ID is the registry identifier.
const ID = "file"

// Module implements the file state module.
type Module struct {
	module.Base
}

// New constructs the module.
func New() (module.Module, error) {
	info := module.Info{
		ID:          ID,
		Name:        "File",
		Description: "Ensure a path is a file, a directory, touched, or absent",
		Version:     "1.0.0",
	}
	spec := contracts.Spec{
		Params: map[string]contracts.Param{
			"path":  {Type: contracts.TypePath, Required: true, Aliases: []string{"dest", "name"}},
			"state": {Type: contracts.TypeStr, Default: "file", Choices: []string{"file", "directory", "touch", "absent"}},
			"mode":  {Type: contracts.TypeStr},
		},
	}
	return &Module{Base: module.NewBase(info, spec)}, nil
}

// Run converges the path to the desired state.
func (m *Module) Run(ctx *module.RunContext, params map[string]any) module.Result {
	path := params["path"].(string)
	state := params["state"].(string)
	modeStr, hasMode := params["mode"].(string)

	var mode os.FileMode
	if hasMode {
		parsed, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return module.Failf("file %s: bad mode %q", path, modeStr)
		}
		mode = os.FileMode(parsed)
	}

	info, err := os.Lstat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return module.Failf("file %s: stat: %v", path, err)
	}

	switch state {
	case "absent":
		if !exists {
			return module.Okf("%s is absent", path)
		}
		if ctx.CheckMode {
			return module.Changedf("%s would be removed", path)
		}
		if err := os.RemoveAll(path); err != nil {
			return module.Failf("file %s: remove: %v", path, err)
		}
		return module.Changedf("%s removed", path)

	case "directory":
		if exists && info.IsDir() {
			return m.converge(ctx, path, info, mode, hasMode, fmt.Sprintf("directory %s already present", path))
		}
		if exists {
			return module.Failf("file %s: exists and is not a directory", path)
		}
		if ctx.CheckMode {
			return module.Changedf("directory %s would be created", path)
		}
		perm := os.FileMode(0o755)
		if hasMode {
			perm = mode
		}
		if err := os.MkdirAll(path, perm); err != nil {
			return module.Failf("file %s: mkdir: %v", path, err)
		}
		return module.Changedf("directory %s created", path)

	case "touch":
		if ctx.CheckMode {
			if exists {
				return module.Changedf("%s would be touched", path)
			}
			return module.Changedf("%s would be created", path)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return module.Failf("file %s: touch: %v", path, err)
		}
		f.Close()
		if hasMode {
			if err := os.Chmod(path, mode); err != nil {
				return module.Failf("file %s: chmod: %v", path, err)
			}
		}
		return module.Changedf("%s touched", path)

	default: // file
		if !exists {
			return module.Failf("file %s: does not exist; use state=touch to create", path)
		}
		if info.IsDir() {
			return module.Failf("file %s: is a directory", path)
		}
		return m.converge(ctx, path, info, mode, hasMode, fmt.Sprintf("file %s already present", path))
	}
}

// converge applies a mode mismatch on an existing path.
func (m *Module) converge(ctx *module.RunContext, path string, info os.FileInfo, mode os.FileMode, hasMode bool, okMsg string) module.Result {
	if !hasMode || info.Mode().Perm() == mode.Perm() {
		return module.Okf("%s", okMsg)
	}
	if ctx.CheckMode {
		return module.Changedf("%s mode would change %o -> %o", path, info.Mode().Perm(), mode.Perm())
	}
	if err := os.Chmod(path, mode); err != nil {
		return module.Failf("file %s: chmod: %v", path, err)
	}
	return module.Changedf("%s mode changed to %o", path, mode.Perm())
}
