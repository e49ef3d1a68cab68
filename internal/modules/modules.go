// Package modules wires the builtin state modules into a registry.
package modules

import (
	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/modules/command"
	"github.com/kingrea/converge/internal/modules/file"
	"github.com/kingrea/converge/internal/modules/group"
	"github.com/kingrea/converge/internal/modules/mount"
	"github.com/kingrea/converge/internal/modules/pkg"
	"github.com/kingrea/converge/internal/modules/service"
)

// RegisterBuiltins installs every builtin module factory.
func RegisterBuiltins(reg *module.Registry) {
	reg.MustRegister(group.ID, group.New)
	reg.MustRegister(pkg.ID, pkg.New)
	reg.MustRegister(service.ID, service.New)
	reg.MustRegister(mount.ID, mount.New)
	reg.MustRegister(file.ID, file.New)
	reg.MustRegister(command.ID, command.New)
}
