package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// HookExecutor runs the code of a hook with its evaluated arguments.
type HookExecutor interface {
	ExecuteHook(c context.Context, def *Definition, code HookCode, args map[string]any) (any, error)
}

// HookRegistry caches compiled hook programs. Programs are immutable and
// can run on any number of runtimes at once.
type HookRegistry struct {
	mu       sync.Mutex
	programs map[string]*goja.Program
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{programs: make(map[string]*goja.Program)}
}

func (hr *HookRegistry) program(key string, load func() (name, src string, err error)) (*goja.Program, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if p, ok := hr.programs[key]; ok {
		return p, nil
	}
	name, src, err := load()
	if err != nil {
		return nil, err
	}
	p, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, err
	}
	hr.programs[key] = p
	return p, nil
}

// JSRuntime runs hooks as JavaScript. Inline code is the body of a
// function taking args, file code must define the target function.
type JSRuntime struct {
	fs      afero.Fs
	reg     *HookRegistry
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewJSRuntime(fs afero.Fs, reg *HookRegistry, timeout time.Duration, log *zap.SugaredLogger) *JSRuntime {
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &JSRuntime{fs: fs, reg: reg, timeout: timeout, log: log}
}

func (rt *JSRuntime) ExecuteHook(c context.Context, def *Definition, code HookCode, args map[string]any) (any, error) {
	vm := goja.New()
	done := make(chan struct{})

	timer := time.AfterFunc(rt.timeout, func() {
		vm.Interrupt(fmt.Errorf("hook execution exceeded %s", rt.timeout))
	})
	defer timer.Stop()

	go func() {
		select {
		case <-c.Done():
			vm.Interrupt(c.Err())
		case <-done:
		}
	}()
	defer close(done)

	console := vm.NewObject()
	console.Set("log", func(a ...any) {
		rt.log.Debugw("hook console.log", "hook", code.String(), "args", a)
	}) //nolint:errcheck
	if err := vm.Set("console", console); err != nil {
		return nil, err
	}

	fn, err := rt.function(vm, code)
	if err != nil {
		return nil, err
	}

	v, err := fn(goja.Undefined(), vm.ToValue(jsValue(args)))
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

func (rt *JSRuntime) function(vm *goja.Runtime, code HookCode) (goja.Callable, error) {
	switch {
	case code.Inline != "":
		p, err := rt.reg.program("inline:"+code.Inline, func() (string, string, error) {
			return "inline_hook.js", "(function(args) {\n" + code.Inline + "\n})", nil
		})
		if err != nil {
			return nil, err
		}
		v, err := vm.RunProgram(p)
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return nil, fmt.Errorf("inline hook is not a function")
		}
		return fn, nil

	case code.File != "":
		switch code.Runtime {
		case "", "js", "javascript":
		default:
			return nil, fmt.Errorf("unsupported hook runtime '%s'", code.Runtime)
		}
		p, err := rt.reg.program("file:"+code.File, func() (string, string, error) {
			b, err := afero.ReadFile(rt.fs, code.File)
			return code.File, string(b), err
		})
		if err != nil {
			return nil, err
		}
		if _, err := vm.RunProgram(p); err != nil {
			return nil, err
		}
		target := code.Target
		if target == "" {
			target = "main"
		}
		fn, ok := goja.AssertFunction(vm.Get(target))
		if !ok {
			return nil, fmt.Errorf("hook file '%s' has no function '%s'", code.File, target)
		}
		return fn, nil
	}
	return nil, fmt.Errorf("hook has no code")
}

// jsValue converts rows into plain maps and slices so that the runtime
// exposes them as ordinary objects and arrays.
func jsValue(v any) any {
	switch x := v.(type) {
	case Row:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = jsValue(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = jsValue(val)
		}
		return m
	case []Row:
		a := make([]any, len(x))
		for i, val := range x {
			a[i] = jsValue(val)
		}
		return a
	case []any:
		a := make([]any, len(x))
		for i, val := range x {
			a[i] = jsValue(val)
		}
		return a
	}
	return v
}
