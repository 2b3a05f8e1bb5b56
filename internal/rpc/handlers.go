package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/BishopFox/sliver-gui-sub001/internal/terminal"
)

// Built-in methods
const (
	MethodListSessions  = "client_listSessions"
	MethodListTerminals = "client_listTerminals"
	MethodReadTerminal  = "client_readTerminal"
	MethodConfigGet     = "config_get"
	MethodScriptList    = "script_list"
	MethodPing          = "rpc_ping"
)

// ScriptLister lists the instances that have a stored script
type ScriptLister interface {
	List() ([]string, error)
}

// Deps are the collaborators the built-in handlers read from. Nil fields
// leave the corresponding methods unregistered.
type Deps struct {
	Terminals *terminal.Registry
	Scripts   ScriptLister
	Settings  map[string]any // sandbox-visible configuration
}

// RegisterDefaults installs the built-in handlers.
func RegisterDefaults(r *Router, deps Deps) {
	r.Handle(MethodPing, ping)

	if deps.Terminals != nil {
		h := &terminalHandlers{registry: deps.Terminals}
		r.Handle(MethodListSessions, h.listSessions)
		r.Handle(MethodListTerminals, h.listTerminals)
		r.Handle(MethodReadTerminal, h.readTerminal)
	}
	if deps.Scripts != nil {
		r.Handle(MethodScriptList, scriptList(deps.Scripts))
	}
	if deps.Settings != nil {
		r.Handle(MethodConfigGet, configGet(deps.Settings))
	}
}

func ping(_ context.Context, call *Call) (any, error) {
	var params struct {
		Echo any `json:"echo"`
	}
	if err := call.Bind(&params); err != nil {
		return nil, err
	}
	return map[string]any{
		"pong":     true,
		"echo":     params.Echo,
		"time":     time.Now().UTC().Format(time.RFC3339Nano),
		"trace_id": call.TraceID,
	}, nil
}

type terminalHandlers struct {
	registry *terminal.Registry
}

type terminalKey struct {
	Session   string `json:"session"`
	Namespace string `json:"namespace"`
	ID        int    `json:"id"`
}

// TerminalView is the sandbox-visible description of a terminal
type TerminalView struct {
	ID   int           `json:"id"`
	Name string        `json:"name"`
	Info terminal.Info `json:"info"`
}

func (h *terminalHandlers) listSessions(context.Context, *Call) (any, error) {
	return map[string]any{"sessions": h.registry.Sessions()}, nil
}

func (h *terminalHandlers) listTerminals(_ context.Context, call *Call) (any, error) {
	var key terminalKey
	if err := call.Bind(&key); err != nil {
		return nil, err
	}
	if key.Session == "" || key.Namespace == "" {
		return nil, fmt.Errorf("%w: session and namespace are required", ErrInvalidParams)
	}

	records := h.registry.List(key.Session, key.Namespace)
	views := make([]TerminalView, 0, len(records))
	for _, rec := range records {
		views = append(views, TerminalView{ID: rec.ID, Name: rec.Name, Info: rec.Terminal.Info()})
	}
	return map[string]any{"terminals": views}, nil
}

func (h *terminalHandlers) readTerminal(_ context.Context, call *Call) (any, error) {
	var key terminalKey
	if err := call.Bind(&key); err != nil {
		return nil, err
	}

	rec, ok := h.registry.Get(key.Session, key.Namespace, key.ID)
	if !ok {
		return nil, fmt.Errorf("terminal %s/%s/%d not found", key.Session, key.Namespace, key.ID)
	}
	return map[string]any{
		"id":    rec.ID,
		"name":  rec.Name,
		"lines": rec.Terminal.Lines(),
	}, nil
}

func scriptList(scripts ScriptLister) HandlerFunc {
	return func(context.Context, *Call) (any, error) {
		instances, err := scripts.List()
		if err != nil {
			return nil, err
		}
		return map[string]any{"instances": instances}, nil
	}
}

func configGet(settings map[string]any) HandlerFunc {
	return func(_ context.Context, call *Call) (any, error) {
		var params struct {
			Key string `json:"key"`
		}
		if err := call.Bind(&params); err != nil {
			return nil, err
		}
		if params.Key == "" {
			return settings, nil
		}
		value, ok := settings[params.Key]
		if !ok {
			return nil, fmt.Errorf("unknown config key %q", params.Key)
		}
		return map[string]any{"key": params.Key, "value": value}, nil
	}
}
