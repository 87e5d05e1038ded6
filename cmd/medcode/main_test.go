package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/medcode-resolver/internal/config"
	"github.com/dshills/medcode-resolver/internal/indexer"
	"github.com/dshills/medcode-resolver/pkg/types"
)

func TestJobFlags(t *testing.T) {
	f := &jobFlags{country: "nz", entityType: "Medication", codeSystem: types.SystemMedicationFormulary}
	require.NoError(t, f.validate())

	filter := f.filter()
	assert.Equal(t, "NZ", filter.CountryCode)
	assert.Equal(t, types.EntityMedication, filter.EntityType)

	assert.ErrorIs(t, (&jobFlags{entityType: "device"}).validate(), types.ErrInvalidEntityType)
	assert.Error(t, (&jobFlags{dryRunLimit: -1}).validate())
}

func TestJobConfigFallsBackToSettings(t *testing.T) {
	a := &app{cfg: &config.Config{JobBatchSize: 75, JobWorkers: 2}}

	cfg := a.jobConfig(&jobFlags{dryRunLimit: 5})
	assert.Equal(t, 75, cfg.BatchSize)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 5, cfg.DryRunLimit)

	cfg = a.jobConfig(&jobFlags{batchSize: 10, workers: 4, skipEmpty: true})
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.SkipOnEmptyNormalization)
}

func TestReportJobExitStatus(t *testing.T) {
	tests := []struct {
		name  string
		stats indexer.Statistics
		fail  bool
	}{
		{"clean", indexer.Statistics{Total: 3, Succeeded: 3}, false},
		{"failed rows", indexer.Statistics{Total: 3, Succeeded: 2, Failed: 1}, true},
		{"interrupted", indexer.Statistics{Total: 3, Succeeded: 1, Interrupted: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := &cobra.Command{}
			cmd.SetOut(&out)

			err := reportJob(cmd, &tt.stats)
			if tt.fail {
				assert.True(t, errors.Is(err, errJobIncomplete))
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out.String(), `"succeeded"`)
		})
	}
}
