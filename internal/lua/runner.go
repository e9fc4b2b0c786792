// Package lua runs small workflow input scripts. A script sees the values
// bound so far as the global table ctx and returns a string or an array of
// strings, which become the step's args.
package lua

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultTimeout bounds a single script evaluation.
const DefaultTimeout = time.Second

// Script is compiled once and evaluated in a fresh state per call, so it is
// safe for concurrent use.
type Script struct {
	name    string
	proto   *lua.FunctionProto
	timeout time.Duration
}

// Compile parses source. name is used in error messages.
func Compile(name, source string) (*Script, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return &Script{name: name, proto: proto, timeout: DefaultTimeout}, nil
}

// CompileFile reads and compiles the script at path.
func CompileFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	return Compile(path, string(data))
}

// WithTimeout returns a copy of s bounded by d.
func (s *Script) WithTimeout(d time.Duration) *Script {
	c := *s
	if d > 0 {
		c.timeout = d
	}
	return &c
}

func (s *Script) Name() string { return s.name }

// Eval runs the script with vars exposed as ctx.
func (s *Script) Eval(vars map[string]any) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer lState.Close()
	openSafeLibs(lState)
	lState.SetContext(ctx)

	lState.SetGlobal("ctx", toLValue(lState, vars))
	lState.Push(lState.NewFunctionFromProto(s.proto))
	if err := lState.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	ret := lState.Get(-1)
	lState.Pop(1)
	return toArgs(s.name, ret)
}

func toArgs(name string, v lua.LValue) ([]string, error) {
	switch v.Type() {
	case lua.LTNil:
		return []string{}, nil
	case lua.LTString, lua.LTNumber, lua.LTBool:
		return []string{scalarString(v)}, nil
	case lua.LTTable:
		tbl := v.(*lua.LTable)
		n := tbl.Len()
		out := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			el := tbl.RawGetInt(i)
			switch el.Type() {
			case lua.LTString, lua.LTNumber, lua.LTBool:
				out = append(out, scalarString(el))
			default:
				return nil, fmt.Errorf("%s: element %d must be a string, got %s", name, i, el.Type())
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: must return a string or array of strings, got %s", name, v.Type())
	}
}

func scalarString(v lua.LValue) string {
	if n, ok := v.(lua.LNumber); ok {
		f := float64(n)
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return v.String()
}

// toLValue converts plain Go values. Map keys are inserted in sorted order
// so that pairs() iteration is stable.
func toLValue(l *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []string:
		tbl := l.NewTable()
		for _, s := range x {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []any:
		tbl := l.NewTable()
		for _, el := range x {
			tbl.Append(toLValue(l, el))
		}
		return tbl
	case map[string]any:
		tbl := l.NewTable()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLValue(l, x[k]))
		}
		return tbl
	case fmt.Stringer:
		return lua.LString(x.String())
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// openSafeLibs loads the pure libraries plus a minimal os module with getenv
// and time. io and the rest of os are left out.
func openSafeLibs(lState *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		lState.Push(lState.NewFunction(lib.fn))
		lState.Push(lua.LString(lib.name))
		lState.Call(1, 0)
	}
	lState.SetGlobal("os", osModule(lState))
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		lState.SetGlobal(name, lua.LNil)
	}
}

func osModule(lState *lua.LState) *lua.LTable {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LString(os.Getenv(ls.CheckString(1))))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	return mod
}
