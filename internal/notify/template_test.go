package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

var at = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func TestDefaultMessage(t *testing.T) {
	down := DefaultMessage("api", monitor.StatusDown, at, "")
	assert.Equal(t, "[api] 🔴 Down", down.Title)
	assert.Equal(t, "[api] 🔴 Down\nTime: 2025-01-02 03:04:05 (UTC)", down.Body)

	down = DefaultMessage("api", monitor.StatusDown, at, "connection refused")
	assert.Equal(t, "[api] 🔴 Down\nTime: 2025-01-02 03:04:05 (UTC)\nError: connection refused", down.Body)

	up := DefaultMessage("api", monitor.StatusUp, at, "")
	assert.Equal(t, "[api] ✅ Up", up.Title)
}

func TestCompose_DefaultCarriesRecentError(t *testing.T) {
	m := &monitor.Monitor{Name: "api", RecentError: "connection refused"}
	msg, err := Compose(m, monitor.StatusDown, time.Unix(0, 0).UTC(), -1)
	require.NoError(t, err)
	assert.Equal(t, "[api] 🔴 Down\nTime: 1970-01-01 00:00:00 (UTC)\nError: connection refused", msg.Body)
}

func TestCompose_CustomTemplate(t *testing.T) {
	tpl := "{{.Name}} went {{.Status}} at {{.Time}}: {{.Error}}"
	m := &monitor.Monitor{ID: "m1", Name: "api", DownMessage: &tpl, RecentError: "timeout"}

	msg, err := Compose(m, monitor.StatusDown, at, -1)
	require.NoError(t, err)
	assert.Equal(t, "[api] 🔴 Down", msg.Title)
	assert.Equal(t, "api went DOWN at 2025-01-02 03:04:05 (UTC): timeout", msg.Body)

	msg, err = Compose(m, monitor.StatusUp, at, 12)
	require.NoError(t, err)
	assert.Equal(t, DefaultMessage("api", monitor.StatusUp, at, ""), msg)
}

func TestCompose_BrokenTemplateFallsBack(t *testing.T) {
	for _, tpl := range []string{"{{.Name", "{{.Nope}}"} {
		tpl := tpl
		m := &monitor.Monitor{Name: "api", UpMessage: &tpl}
		msg, err := Compose(m, monitor.StatusUp, at, 1)
		require.Error(t, err)
		assert.Equal(t, DefaultMessage("api", monitor.StatusUp, at, ""), msg)
	}
}
