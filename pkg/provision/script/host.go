// Package script defines the boundary to the eligibility/transformation
// script subsystem. The engine only needs named scripts that yield a boolean
// (eligibility) or a transformed value (attribute transformation); how they
// are authored is a collaborator concern. The default host runs Go functions
// registered by name, which is what tests and embedded deployments use.
package script

import (
	"context"
	"fmt"
	"sync"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/support/util/exception"
)

// Host evaluates named scripts against an entity and a context payload.
type Host interface {
	// EvalBool runs a boolean-producing script (e.g. "canBeAccountCreated").
	EvalBool(ctx context.Context, name string, entity *model.Entity, scriptCtx model.AttributeMap) (bool, error)

	// Transform runs a value transformation script against one input value.
	Transform(ctx context.Context, name string, value interface{}, entity *model.Entity, scriptCtx model.AttributeMap) (interface{}, error)
}

// BoolFunc is a Go-implemented boolean script.
type BoolFunc func(ctx context.Context, entity *model.Entity, scriptCtx model.AttributeMap) (bool, error)

// TransformFunc is a Go-implemented transformation script.
type TransformFunc func(ctx context.Context, value interface{}, entity *model.Entity, scriptCtx model.AttributeMap) (interface{}, error)

// FuncHost is a Host backed by Go functions registered by name.
type FuncHost struct {
	mu         sync.RWMutex
	bools      map[string]BoolFunc
	transforms map[string]TransformFunc
}

// NewFuncHost creates an empty function-backed script host.
func NewFuncHost() *FuncHost {
	return &FuncHost{
		bools:      make(map[string]BoolFunc),
		transforms: make(map[string]TransformFunc),
	}
}

// RegisterBool binds a boolean script under a name.
func (h *FuncHost) RegisterBool(name string, fn BoolFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bools[name] = fn
}

// RegisterTransform binds a transformation script under a name.
func (h *FuncHost) RegisterTransform(name string, fn TransformFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transforms[name] = fn
}

// EvalBool implements Host. A missing script name is a script error, not a
// default decision.
func (h *FuncHost) EvalBool(ctx context.Context, name string, entity *model.Entity, scriptCtx model.AttributeMap) (bool, error) {
	h.mu.RLock()
	fn, ok := h.bools[name]
	h.mu.RUnlock()
	if !ok {
		return false, exception.NewScriptError("script", fmt.Sprintf("boolean script %q is not registered", name), nil)
	}
	result, err := fn(ctx, entity, scriptCtx)
	if err != nil {
		return false, exception.NewScriptError("script", fmt.Sprintf("boolean script %q failed", name), err)
	}
	return result, nil
}

// Transform implements Host.
func (h *FuncHost) Transform(ctx context.Context, name string, value interface{}, entity *model.Entity, scriptCtx model.AttributeMap) (interface{}, error) {
	h.mu.RLock()
	fn, ok := h.transforms[name]
	h.mu.RUnlock()
	if !ok {
		return nil, exception.NewScriptError("script", fmt.Sprintf("transformation script %q is not registered", name), nil)
	}
	result, err := fn(ctx, value, entity, scriptCtx)
	if err != nil {
		return nil, exception.NewScriptError("script", fmt.Sprintf("transformation script %q failed", name), err)
	}
	return result, nil
}

var _ Host = (*FuncHost)(nil)
