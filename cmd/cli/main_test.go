package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RECONCILER_CONFIG", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("STORE_DSN", filepath.Join(dir, "cli.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("GCS_BUCKET", "")

	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	path := filepath.Join(dir, "batch.txt")
	content := "ID:A;NOME:Alice;CPF:111;DATA:2023-12-01;VALOR:100.00\n" +
		"ID:B;NOME:Bob;CPF:222;DATA:2024-03-01;VALOR:300.00\n" +
		"ID:C;NOME:Carol;CPF:333;DATA:2024-01-15;VALOR:-50.00\n" +
		"ID:D;NOME:Dan\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_IngestThenReport(t *testing.T) {
	path := setupEnv(t)

	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"ingest", "-file", path}, &out), out.String())
	assert.Contains(t, out.String(), "Processed: 3")
	assert.Contains(t, out.String(), "Rejected:  1")
	assert.Contains(t, out.String(), "line 4:")

	out.Reset()
	require.Equal(t, 0, run([]string{"ingest", "-file", path}, &out))
	assert.Contains(t, out.String(), "Processed: 0")
	assert.Contains(t, out.String(), "Skipped:   3")

	out.Reset()
	require.Equal(t, 0, run([]string{"stats"}, &out))
	assert.Contains(t, out.String(), "Transactions: 3")
	assert.Contains(t, out.String(), "Average:      116.67")

	out.Reset()
	require.Equal(t, 0, run([]string{"list", "-client", "bo"}, &out))
	assert.Contains(t, out.String(), "Transactions (1 of 1)")
	assert.Contains(t, out.String(), "Bob")

	out.Reset()
	require.Equal(t, 0, run([]string{"runs", "-limit", "5"}, &out))
	assert.Contains(t, out.String(), "Ingestion Runs (2)")
	assert.Contains(t, out.String(), "batch.txt")
}

func TestRun_Errors(t *testing.T) {
	path := setupEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"reparse"}},
		{"ingest without source", []string{"ingest"}},
		{"ingest with both sources", []string{"ingest", "-file", path, "-gcs-uri", "gs://b/f"}},
		{"missing file", []string{"ingest", "-file", filepath.Join(t.TempDir(), "nope.txt")}},
		{"bad flag", []string{"stats", "-verbose"}},
		{"bad date", []string{"list", "-start-date", "yesterday"}},
		{"upload without bucket", []string{"upload", "-file", path}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, 1, run(tt.args, &out))
		})
	}
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 0, run([]string{"help"}, &out))
	assert.Contains(t, out.String(), "Transaction Reconciler CLI")
}
