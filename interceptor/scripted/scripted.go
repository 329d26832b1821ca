// Package scripted provides a JS-scripted Interceptor, adapting the
// teacher's pre/post-request scripting engine (internal/scripting/engine.go,
// internal/scripting/api.go) from a one-shot HTTP request mutator into a
// reusable gRPC interceptor: it can inspect and rewrite the leading
// metadata of a call, or reject it outright, in a user-supplied snippet of
// JavaScript run on a goja VM per invocation.
package scripted

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/sadopc/rpccore/interceptor"
	"github.com/sadopc/rpccore/metadata"
	"github.com/sadopc/rpccore/status"
)

// Engine runs scripted interceptors with a shared execution timeout,
// exactly mirroring scripting.Engine's constructor shape.
type Engine struct {
	timeout time.Duration
}

// New creates an Engine. A zero timeout defaults to 5s, matching the
// teacher's scripting.NewEngine default.
func New(timeout time.Duration) *Engine {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Engine{timeout: timeout}
}

// scriptAPI is the `rpc` global object exposed to scripts: get/set headers
// on the outgoing metadata, and reject(code, message) to short-circuit.
type scriptAPI struct {
	md       metadata.MD
	rejected *status.Status
}

func (a *scriptAPI) registerOnRuntime(vm *goja.Runtime) {
	obj := vm.NewObject()

	obj.Set("getHeader", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		values := a.md.Get(key)
		if len(values) == 0 {
			return goja.Undefined()
		}
		return vm.ToValue(values[0])
	})
	obj.Set("setHeader", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		value := call.Argument(1).String()
		a.md.Set(key, value)
		return goja.Undefined()
	})
	obj.Set("reject", func(call goja.FunctionCall) goja.Value {
		code := status.Code(call.Argument(0).ToInteger())
		msg := call.Argument(1).String()
		a.rejected = status.New(code, msg)
		return goja.Undefined()
	})

	vm.Set("rpc", obj)
}

// Interceptor builds an interceptor.Interceptor running script against the
// call's outgoing metadata before next is invoked, on every invocation
// (once per call, not once per message). The VM is interrupted if script
// runs past the engine's timeout, matching scripting.Engine.run's
// context-watching interrupt goroutine.
func (e *Engine) Interceptor(name, script string) interceptor.Interceptor {
	return interceptor.Interceptor{
		Name: name,
		Intercept: func(call interceptor.Call, next interceptor.Handler) *status.Status {
			md, _ := metadata.FromOutgoingContext(call.Context())
			api := &scriptAPI{md: md.Copy()}

			if err := e.run(call.Context(), script, api); err != nil {
				return status.New(status.Internal, fmt.Sprintf("scripted interceptor %q: %v", name, err))
			}
			if api.rejected != nil {
				return api.rejected
			}

			ctx := metadata.NewOutgoingContext(call.Context(), api.md)
			return next(contextOverrideCall{Call: call, ctx: ctx})
		},
	}
}

func (e *Engine) run(parent context.Context, script string, api *scriptAPI) error {
	vm := goja.New()
	api.registerOnRuntime(vm)

	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("scripted interceptor timeout exceeded")
		case <-done:
		}
	}()

	_, err := vm.RunString(script)
	close(done)
	if err != nil {
		return fmt.Errorf("script error: %w", err)
	}
	return nil
}

// contextOverrideCall wraps a Call to substitute a new Context(), without
// needing every interceptor.Call implementation to expose a setter.
type contextOverrideCall struct {
	interceptor.Call
	ctx context.Context
}

func (c contextOverrideCall) Context() context.Context { return c.ctx }
