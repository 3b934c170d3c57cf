// Package exec runs artifact code in an embedded Lua interpreter under a
// bounded time budget, exposing the kernel's capability surface as Lua
// globals. A fault or timeout inside artifact code never propagates: it is
// returned as an error for the kernel to convert to an execution failure.
package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"scripcraft.ai/internal/scrip"
	"scripcraft.ai/internal/sim/kernel"
)

type Engine struct {
	// RegistrySize bounds each interpreter's Lua registry. Zero means the
	// gopher-lua default.
	RegistrySize int
}

func New() *Engine { return &Engine{} }

// Run executes one method of the given artifact code. The context deadline
// is the invocation's time budget; gopher-lua aborts the VM when it
// expires.
func (e *Engine) Run(ctx context.Context, inv kernel.Invocation) (kernel.ExecResult, error) {
	start := time.Now()
	L := e.newState()
	defer L.Close()
	L.SetContext(ctx)

	registerCaps(L, inv.Caps)

	var res kernel.ExecResult
	if err := L.DoString(inv.Code); err != nil {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("artifact code: %w", err)
	}

	method := inv.Method
	if method == "" {
		method = "main"
	}
	fn := L.GetGlobal(method)
	if fn.Type() != lua.LTFunction {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("no such method %q", method)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, toLua(L, inv.Args)); err != nil {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("method %s: %w", method, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	res.Value = fromLua(ret)
	res.Elapsed = time.Since(start)
	return res, nil
}

// Methods loads the code and maps its optional global `methods` table into
// the declared method interface. Code without a methods table exposes only
// what callers discover by convention.
func (e *Engine) Methods(code string) ([]kernel.MethodSpec, error) {
	L := e.newState()
	defer L.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	L.SetContext(ctx)

	registerCaps(L, nopCaps{})

	if err := L.DoString(code); err != nil {
		return nil, fmt.Errorf("artifact code: %w", err)
	}
	tbl, ok := L.GetGlobal("methods").(*lua.LTable)
	if !ok {
		return nil, nil
	}
	var decl struct {
		Methods []kernel.MethodSpec
	}
	wrapper := L.NewTable()
	wrapper.RawSetString("methods", tbl)
	if err := gluamapper.Map(wrapper, &decl); err != nil {
		return nil, fmt.Errorf("methods table: %w", err)
	}
	for _, m := range decl.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("methods table: entry with empty name")
		}
		if L.GetGlobal(m.Name).Type() != lua.LTFunction {
			return nil, fmt.Errorf("declared method %q has no function", m.Name)
		}
	}
	return decl.Methods, nil
}

func (e *Engine) newState() *lua.LState {
	opts := lua.Options{SkipOpenLibs: true}
	if e.RegistrySize > 0 {
		opts.RegistrySize = e.RegistrySize
	}
	L := lua.NewState(opts)
	// Base, table, string and math only: no io/os/debug for artifact code.
	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}
	return L
}

func registerCaps(L *lua.LState, caps kernel.Capabilities) {
	L.SetGlobal("pay", L.NewFunction(func(L *lua.LState) int {
		to := L.CheckString(1)
		amt, err := scrip.Parse(L.CheckString(2))
		if err != nil {
			L.RaiseError("pay: %v", err)
		}
		if err := caps.Pay(to, amt); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))
	L.SetGlobal("transfer", L.NewFunction(func(L *lua.LState) int {
		to := L.CheckString(1)
		resource := L.CheckString(2)
		amount := L.CheckInt64(3)
		if err := caps.TransferResource(to, resource, amount); err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))
	L.SetGlobal("read_artifact", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckString(1)
		content, ok := caps.ReadArtifact(id)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(content))
		return 1
	}))
	L.SetGlobal("emit", L.NewFunction(func(L *lua.LState) int {
		caps.Emit(fromLua(L.Get(1)))
		return 0
	}))
}

type nopCaps struct{}

func (nopCaps) Pay(string, scrip.Amount) error {
	return fmt.Errorf("not available")
}

func (nopCaps) TransferResource(string, string, int64) error {
	return fmt.Errorf("not available")
}

func (nopCaps) ReadArtifact(string) ([]byte, bool) {
	return nil, false
}

func (nopCaps) Emit(any) {}
