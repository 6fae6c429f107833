package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

func runScript(s *Script, src string) (float64, error) {
	return s.Run(context.Background(), &monitor.Monitor{ID: "m1", Payload: monitor.Payload{"script": src}})
}

func TestScript_Disabled(t *testing.T) {
	_, err := runScript(NewScript(ScriptConfig{}, zap.NewNop()), "return 1")
	require.ErrorIs(t, err, ErrScriptsDisabled)
}

func TestScript_ReturnsValue(t *testing.T) {
	s := NewScript(ScriptConfig{Enabled: true}, zap.NewNop())

	v, err := runScript(s, `log("checking"); local t = {40, 2.5}; return t[1] + t[2]`)
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)

	v, err = runScript(s, `return " -1 "`)
	require.NoError(t, err)
	assert.Equal(t, -1.0, v)

	v, err = runScript(s, `return string.format("%d", math.floor(7.9))`)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestScript_Errors(t *testing.T) {
	s := NewScript(ScriptConfig{Enabled: true}, zap.NewNop())

	_, err := runScript(s, `error("boom")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = runScript(s, `return "ok"`)
	require.Error(t, err)

	_, err = runScript(s, `return {}`)
	require.Error(t, err)

	_, err = runScript(s, `return (`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile script")
}

func TestScript_NoHostAccess(t *testing.T) {
	s := NewScript(ScriptConfig{Enabled: true}, zap.NewNop())

	for _, src := range []string{
		`return os.execute("true")`,
		`return io.open("/etc/passwd"):read("*a")`,
		`return dofile("/etc/passwd")`,
		`return require("os")`,
		`return string.rep("x", 10)`,
	} {
		_, err := runScript(s, src)
		assert.Error(t, err, src)
	}
}

func TestScript_Timeout(t *testing.T) {
	s := NewScript(ScriptConfig{Enabled: true, Timeout: 50 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	_, err := runScript(s, `while true do end`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}
