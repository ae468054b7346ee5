package sqlqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	query := `UPDATE t SET a = ? WHERE id = ? AND b = '?'`

	assert.Equal(t, query, Dialect{}.Rebind(query))
	assert.Equal(t,
		`UPDATE t SET a = $1 WHERE id = $2 AND b = '$3'`,
		Dialect{DollarPlaceholders: true}.Rebind(query),
		"rebinding is positional and does not parse string literals",
	)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultTable, cfg.Table)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultLockTimeout, cfg.LockTimeout)
	assert.Equal(t, DefaultNackDelay, cfg.NackDelay)

	custom := Config{Table: "q", PollInterval: time.Second, LockTimeout: time.Minute, NackDelay: 5 * time.Second}.withDefaults()
	assert.Equal(t, "q", custom.Table)
	assert.Equal(t, time.Second, custom.PollInterval)
	assert.Equal(t, time.Minute, custom.LockTimeout)
	assert.Equal(t, 5*time.Second, custom.NackDelay)
}
