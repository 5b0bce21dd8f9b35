package config

import (
	lua "github.com/yuin/gopher-lua"
)

// newSandboxedVM creates a Lua VM restricted to declarative work. The
// config must not execute commands, touch files, or load external code, so
// the os, io and debug libraries and every code-loading entry point are
// removed. string, table, math and the basic utilities stay available.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()

	for _, global := range []string{
		"os",
		"io",
		"debug",
		"require",
		"dofile",
		"loadfile",
		"load",
		"loadstring",
	} {
		L.SetGlobal(global, lua.LNil)
	}

	return L
}
