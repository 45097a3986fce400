// Package tools holds the callable functions advertised to models and the
// registry connectors pick them from.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Definition is the provider-neutral description of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Response is what a tool hands back to the model. Result is serialized to
// text before it is injected into the transcript.
type Response struct {
	Result      any
	Attachments []string
}

// Text renders Result the way it is sent to the provider.
func (r *Response) Text() string {
	if r == nil || r.Result == nil {
		return ""
	}
	if s, ok := r.Result.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Sprintf("%v", r.Result)
	}
	return string(b)
}

// Tool is a function the model may call.
type Tool interface {
	Definition() Definition
	HandleToolCall(ctx context.Context, args map[string]any) (*Response, error)
}

// Registry manages the locally available tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	name := tool.Definition().Name
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Select returns the named tools in the given order, skipping unknown names.
func (r *Registry) Select(names []string) Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Set, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// All returns every registered tool sorted by name.
func (r *Registry) All() Set {
	return r.Select(r.Names())
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Set is the tool list available to one connector.
type Set []Tool

// Find looks a tool up by name; the first match wins.
func (s Set) Find(name string) (Tool, bool) {
	for _, t := range s {
		if t.Definition().Name == name {
			return t, true
		}
	}
	return nil, false
}

func (s Set) Definitions() []Definition {
	defs := make([]Definition, 0, len(s))
	for _, t := range s {
		defs = append(defs, t.Definition())
	}
	return defs
}
