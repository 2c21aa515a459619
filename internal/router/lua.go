package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/oof-baroomf/claude-code-router-responses/internal/config"
	"github.com/oof-baroomf/claude-code-router-responses/internal/types"
)

// LuaStrategy runs a user script to choose a model. The script either
// returns a function or defines a global `route`; it is called as
// route(request, config) and returns a model name or nil.
//
// The request table has fields model, token_count, thinking, stream,
// instructions, temperature, tools (declared tool types) and messages
// (list of {role, content}). The config table mirrors RoutingConfig.
//
// Each call runs in a fresh interpreter, so globals a script sets never
// reach the next request.
type LuaStrategy struct {
	path  string
	proto atomic.Pointer[lua.FunctionProto]
}

// NewLuaStrategy compiles the script at path.
func NewLuaStrategy(path string) (*LuaStrategy, error) {
	s := &LuaStrategy{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// newSandbox opens only the base, table, string and math libraries; scripts
// get no file, OS or module access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	return L
}

// Path returns the script location.
func (s *LuaStrategy) Path() string {
	return s.path
}

// Reload recompiles the script. On failure the previous version stays active.
func (s *LuaStrategy) Reload() error {
	src, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("router: read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(src)) == 0 {
		return fmt.Errorf("router: %s is empty", s.path)
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	fn, err := L.LoadString(string(src))
	if err != nil {
		return fmt.Errorf("router: compile %s: %w", s.path, err)
	}
	s.proto.Store(fn.Proto)
	return nil
}

// Route implements Strategy.
func (s *LuaStrategy) Route(ctx context.Context, req *types.TranslatedRequest, tokenCount int, cfg config.RoutingConfig) (string, error) {
	proto := s.proto.Load()
	if proto == nil {
		return "", errors.New("router: lua script not loaded")
	}

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return "", fmt.Errorf("router: run %s: %w", s.path, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	fn, ok := ret.(*lua.LFunction)
	if !ok {
		fn, ok = L.GetGlobal("route").(*lua.LFunction)
	}
	if !ok {
		return "", fmt.Errorf("router: %s defines no route function", s.path)
	}

	L.Push(fn)
	L.Push(requestTable(L, req, tokenCount))
	L.Push(configTable(L, cfg))
	if err := L.PCall(2, 1, nil); err != nil {
		return "", fmt.Errorf("router: %s: %w", s.path, err)
	}
	out := L.Get(-1)
	L.Pop(1)

	switch v := out.(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LNilType:
		return "", nil
	default:
		return "", fmt.Errorf("router: %s returned a %s, want string or nil", s.path, out.Type())
	}
}

// Watch reloads the script whenever it changes until ctx is done.
func (s *LuaStrategy) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("router: watch %s: %w", s.path, err)
	}
	// Editors often replace files; watching the directory survives that.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("router: watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					log.WithError(err).Warn("custom router reload failed, keeping previous script")
					continue
				}
				log.WithField("path", s.path).Info("custom router reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("custom router watcher error")
			}
		}
	}()
	return nil
}

func requestTable(L *lua.LState, req *types.TranslatedRequest, tokenCount int) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "model", lua.LString(req.Model))
	L.SetField(tbl, "token_count", lua.LNumber(tokenCount))
	L.SetField(tbl, "thinking", lua.LBool(req.Thinking))
	L.SetField(tbl, "stream", lua.LBool(req.Stream))
	L.SetField(tbl, "instructions", lua.LString(req.Instructions))
	if req.Temperature != nil {
		L.SetField(tbl, "temperature", lua.LNumber(*req.Temperature))
	}

	tools := L.NewTable()
	for _, t := range req.DeclaredToolTypes {
		tools.Append(lua.LString(t))
	}
	L.SetField(tbl, "tools", tools)

	messages := L.NewTable()
	for _, m := range req.Input {
		msg := L.NewTable()
		L.SetField(msg, "role", lua.LString(m.Role))
		L.SetField(msg, "content", lua.LString(m.Text()))
		messages.Append(msg)
	}
	L.SetField(tbl, "messages", messages)
	return tbl
}

func configTable(L *lua.LState, cfg config.RoutingConfig) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range map[string]string{
		"default":     cfg.Default,
		"background":  cfg.Background,
		"think":       cfg.Think,
		"longContext": cfg.LongContext,
		"webSearch":   cfg.WebSearch,
	} {
		if v != "" {
			L.SetField(tbl, k, lua.LString(v))
		}
	}
	return tbl
}
