package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/couchcryptid/tchi-pipeline/internal/pipeline"
)

func TestParseDateFlag(t *testing.T) {
	def := domain.MustParseDate("2024-06-10")

	d, err := parseDateFlag("date", "", def)
	require.NoError(t, err)
	assert.Equal(t, def, d)

	d, err = parseDateFlag("date", "2024-06-01", def)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", d.String())

	_, err = parseDateFlag("date", "06/01/2024", def)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "--date")

	_, err = parseDateFlag("from", "", domain.Date{})
	assert.EqualError(t, err, "--from is required")
}

func TestReportFailure(t *testing.T) {
	var buf bytes.Buffer
	res := &pipeline.RunResult{
		Date: domain.MustParseDate("2024-06-01"),
		Steps: []pipeline.StepResult{
			{Step: "harmonize_sst", Outcome: pipeline.StepCompleted},
			{
				Step:        "harmonize_chla",
				Outcome:     pipeline.StepFailed,
				Err:         errors.New("file not found"),
				Diagnostics: []string{"source NETCDF:raw/chla_raw.nc:chlor_a"},
			},
		},
	}

	reportFailure(&buf, res)
	assert.Equal(t,
		"2024-06-01: step harmonize_chla failed: file not found\n  source NETCDF:raw/chla_raw.nc:chlor_a\n",
		buf.String())

	buf.Reset()
	reportFailure(&buf, nil)
	reportFailure(&buf, &pipeline.RunResult{})
	assert.Empty(t, buf.String())
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"process", "backfill", "serve"}, names)
}
