package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

var ErrScriptsDisabled = errors.New("script monitors are disabled")

type ScriptConfig struct {
	Enabled bool
	Timeout time.Duration
	// CallStack and Registry bound how deep and how large a script can grow.
	CallStack int
	Registry  int
}

type scriptPayload struct {
	Script string `json:"script"`
}

// Script evaluates a Lua chunk in a fresh interpreter per run. Only the base,
// string, table and math libraries are loaded; the chunk returns the value.
type Script struct {
	cfg ScriptConfig
	log *zap.Logger
}

func NewScript(cfg ScriptConfig, log *zap.Logger) *Script {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CallStack <= 0 {
		cfg.CallStack = 120
	}
	if cfg.Registry <= 0 {
		cfg.Registry = 64 * 1024
	}
	if log == nil {
		log = zap.L()
	}
	return &Script{cfg: cfg, log: log.With(zap.String("component", "provider.script"))}
}

// hostGlobals are base functions that reach outside the interpreter.
var hostGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage", "print"}

func (s *Script) newState(ctx context.Context, monitorID string) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       s.cfg.CallStack,
		RegistrySize:        1024,
		RegistryMaxSize:     s.cfg.Registry,
		RegistryGrowStep:    256,
		IncludeGoStackTrace: false,
	})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range hostGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	// string.rep can allocate without bound in a single call.
	if str, ok := L.GetGlobal("string").(*lua.LTable); ok {
		str.RawSetString("rep", lua.LNil)
	}

	log := s.log.With(zap.String("monitor_id", monitorID))
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		log.Debug("script log", zap.String("line", strings.Join(parts, " ")))
		return 0
	}))
	L.SetContext(ctx)
	return L
}

func (s *Script) Run(ctx context.Context, m *monitor.Monitor) (float64, error) {
	if !s.cfg.Enabled {
		return 0, ErrScriptsDisabled
	}
	var p scriptPayload
	if err := m.Payload.Decode(&p); err != nil {
		return 0, err
	}
	if strings.TrimSpace(p.Script) == "" {
		return 0, errors.New("script is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	L := s.newState(ctx, m.ID)
	defer L.Close()

	fn, err := L.LoadString(p.Script)
	if err != nil {
		return 0, fmt.Errorf("compile script: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("script timed out after %s", s.cfg.Timeout)
		}
		return 0, fmt.Errorf("run script: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return scriptValue(ret)
}

func scriptValue(v lua.LValue) (float64, error) {
	switch t := v.(type) {
	case lua.LNumber:
		return float64(t), nil
	case lua.LString:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return 0, fmt.Errorf("script result %q is not a number", string(t))
		}
		return f, nil
	default:
		return 0, fmt.Errorf("script must return a number, got %s", v.Type())
	}
}
