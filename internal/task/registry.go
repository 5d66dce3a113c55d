package task

import (
	"encoding/json"
	"fmt"

	"github.com/sebas/featureserver/internal/requestor"
)

// Constructor builds a Task from a single verb node's data.
type Constructor func(data map[string]any) (Task, error)

// Registry maps a verb name to its Constructor, mirroring the
// register/create/default-registry shape of an action factory table.
type Registry struct {
	factories map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Constructor)}
}

// Register adds factory under verb. Panics on a duplicate registration,
// since that can only be a startup-time programming error.
func (r *Registry) Register(verb string, factory Constructor) {
	if _, exists := r.factories[verb]; exists {
		panic(fmt.Sprintf("task: verb %q already registered", verb))
	}
	r.factories[verb] = factory
}

// Create builds the task named by verb from its data.
func (r *Registry) Create(verb string, data map[string]any) (Task, error) {
	factory, ok := r.factories[verb]
	if !ok {
		return nil, fmt.Errorf("task: unknown verb %q", verb)
	}
	return factory(data)
}

// DefaultRegistry returns a registry with every built-in verb.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("say", NewSay)
	r.Register("play", NewPlay)
	r.Register("gather", NewGather)
	r.Register("dial", NewDial)
	r.Register("transcribe", NewTranscribe)
	r.Register("record", NewRecord)
	r.Register("pause", NewPause)
	r.Register("redirect", NewRedirect)
	r.Register("hangup", NewHangup)
	return r
}

// BuildTasks parses a decoded JSON array of verb nodes (each a
// map[string]any with a "verb" key) into a Task list, in order.
func (r *Registry) BuildTasks(verbs []any) ([]Task, error) {
	tasks := make([]Task, 0, len(verbs))
	for i, raw := range verbs {
		node, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("task: verb node %d is not an object", i)
		}
		name, _ := node["verb"].(string)
		if name == "" {
			return nil, fmt.Errorf("task: verb node %d missing \"verb\"", i)
		}
		t, err := r.Create(name, node)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ParseHook extracts an optional hook field (eventHook/actionHook) from
// a verb's data: either a bare URL string or an {url,method,username,
// password} object.
func ParseHook(data map[string]any, key string) *requestor.Hook {
	raw, ok := data[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return &requestor.Hook{URL: v}
	case map[string]any:
		h := requestor.Hook{}
		h.URL, _ = v["url"].(string)
		h.Method, _ = v["method"].(string)
		h.Username, _ = v["username"].(string)
		h.Password, _ = v["password"].(string)
		if h.URL == "" {
			return nil
		}
		return &h
	default:
		return nil
	}
}

// marshalRoundTrip re-decodes a map[string]any into dst via JSON, used
// by verb constructors to fill typed parameter structs from the loosely
// typed node data.
func marshalRoundTrip(data map[string]any, dst any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
