package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/Freeeeeet/visitor_gate/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "sweep"}, names)

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	migrate := serve.Flags().Lookup("migrate")
	require.NotNil(t, migrate)
	assert.Equal(t, "true", migrate.DefValue)
}

func TestSweepRejectsUnknownFormat(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"sweep", "--format", "yaml"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yaml")
}

func TestPrintReport(t *testing.T) {
	report := &service.SweepReport{
		ExpiredVisits:   service.JobResult{Processed: 3},
		ExpiringSoon:    service.JobResult{Error: "db unavailable"},
		TimedOutSession: service.JobResult{Processed: 0},
	}

	var text bytes.Buffer
	require.NoError(t, printReport(&text, report, "text"))
	assert.Contains(t, text.String(), "expired visits       3")
	assert.Contains(t, text.String(), "expiring soon        error: db unavailable")

	var raw bytes.Buffer
	require.NoError(t, printReport(&raw, report, "json"))

	var decoded map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw.Bytes(), &decoded))
	assert.Equal(t, float64(3), decoded["expired_visits"]["processed"])
	assert.Equal(t, "db unavailable", decoded["expiring_soon"]["error"])
}
