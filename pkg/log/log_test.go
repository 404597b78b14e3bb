package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildLoggersChainLevelMethods(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	// Level methods must be callable directly on the helper result.
	WithOrgID("org-1").Info().Msg("org scoped")
	WithClusterID("cl-1").Warn().Msg("cluster scoped")
	WithExecutionID("ex-1").Debug().Msg("execution scoped")
	WithComponent("sweeper").Error().Msg("component scoped")

	out := buf.String()
	assert.Contains(t, out, `"org_id":"org-1"`)
	assert.Contains(t, out, `"cluster_id":"cl-1"`)
	assert.Contains(t, out, `"execution_id":"ex-1"`)
	assert.Contains(t, out, `"component":"sweeper"`)
	assert.Contains(t, out, `"message":"cluster scoped"`)
}

func TestInitRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Info("suppressed")
	Warn("emitted")

	out := buf.String()
	require.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "emitted")
}
