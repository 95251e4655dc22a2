package multiboot

import (
	"reflect"
	"strings"
	"unsafe"
)

// moduleDataFn returns the contents of a physical range loaded by the boot
// loader. Boot modules live in identity-mapped low memory.
var moduleDataFn = func(start, end uintptr) []byte {
	size := int(end - start)
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: start,
		Len:  size,
		Cap:  size,
	}))
}

// ModuleFS exposes the boot modules as a read-only file system. A module is
// addressed by the first word of its command line, which boot loaders set
// to the path the module was loaded from.
type ModuleFS struct{}

// FindByPath returns the contents of the module loaded from path.
func (ModuleFS) FindByPath(path string) ([]byte, bool) {
	var (
		data  []byte
		found bool
	)

	VisitModules(func(mod *Module) bool {
		fields := strings.Fields(mod.CmdLine)
		if len(fields) == 0 || fields[0] != path || mod.End < mod.Start {
			return true
		}

		data, found = moduleDataFn(mod.Start, mod.End), true
		return false
	})

	return data, found
}
