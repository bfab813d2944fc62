package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	start, err := parseDay("2019-01-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), start)

	end, err := parseDay("2019-12-31", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2019, 12, 31, 23, 59, 59, 999999999, time.UTC), end)

	open, err := parseDay("", true)
	require.NoError(t, err)
	assert.True(t, open.IsZero())

	_, err = parseDay("12/31/2019", false)
	require.Error(t, err)
}

func TestReportName(t *testing.T) {
	assert.Equal(t, "crime", reportName("crime", nil))
	assert.Equal(t, "crime_homicide", reportName("crime", []string{"HOMICIDE"}))
	assert.Equal(t, "violence_criminal_sexual_assault_robbery",
		reportName("violence", []string{"CRIMINAL SEXUAL ASSAULT", "ROBBERY"}))
}

func TestDatasetsFromArgs(t *testing.T) {
	all, err := datasetsFromArgs(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := datasetsFromArgs([]string{"violence"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "violence", one[0].Name)

	_, err = datasetsFromArgs([]string{"permits"})
	require.Error(t, err)
}
