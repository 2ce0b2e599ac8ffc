package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trumi/inventory/internal/export"
	"trumi/inventory/internal/service"
	"trumi/inventory/internal/store/memory"
)

// useMemory points every command at one shared in-memory store and captures
// stdout for the duration of the test.
func useMemory(t *testing.T) *bytes.Buffer {
	t.Helper()
	money, err := export.NewFormatter("USD")
	require.NoError(t, err)
	svc := service.New(memory.New(), nil, time.Minute)

	prevOpen, prevOut := openSession, stdout
	var out bytes.Buffer
	openSession = func(context.Context) (*session, error) {
		return &session{svc: svc, money: money}, nil
	}
	stdout = &out
	t.Cleanup(func() { openSession, stdout = prevOpen, prevOut })
	return &out
}

func run(t *testing.T, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet("trumictl", flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, "trumictl")
	register(commander)
	require.NoError(t, fs.Parse(args))
	return commander.Execute(context.Background())
}

func TestRecordAndSummary(t *testing.T) {
	out := useMemory(t)

	require.Equal(t, subcommands.ExitSuccess, run(t, "purchase", "-path", "Rings/Band/Gold 18k", "-qty", "10", "-price", "50", "-d", "2026-04-01"))
	require.Equal(t, subcommands.ExitSuccess, run(t, "sale", "-path", "Rings/Band/Gold 18k", "-qty", "2", "-price", "40", "-d", "2026-04-02"))
	assert.Contains(t, out.String(), "2026-04-02 Rings/Band/Gold 18k x2 @ $40.00 = $80.00")

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, "summary", "-plain"))
	assert.Contains(t, out.String(), "| Rings | Band | Gold 18k | 10 | $50.00 | 2 | $40.00 | 8 | $400.00 |")

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, "summary", "-format", "csv", "-reorder", "10"))
	assert.Contains(t, out.String(), "Rings,Band,,Gold 18k,10,50.00,500.00,2,40.00,80.00,8,400.00,false,true")

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, "transactions", "-kind", "purchase"))
	assert.Contains(t, out.String(), "2026-04-01,Rings,Band,Gold 18k,10,50.00,500.00")
}

func TestRecordRejectsBadInput(t *testing.T) {
	useMemory(t)

	assert.Equal(t, subcommands.ExitUsageError, run(t, "sale", "-path", "Rings/Band", "-qty", "1"))
	assert.Equal(t, subcommands.ExitUsageError, run(t, "sale", "-path", "Rings/Band/Gold", "-qty", "1", "-price", "abc"))
	assert.Equal(t, subcommands.ExitFailure, run(t, "sale", "-path", "Rings/Band/Gold", "-qty", "0", "-price", "1"))
	assert.Equal(t, subcommands.ExitUsageError, run(t, "transactions", "-kind", "refund"))
	assert.Equal(t, subcommands.ExitFailure, run(t, "summary", "-format", "pdf"))
}

func TestImportAndTemplate(t *testing.T) {
	out := useMemory(t)
	sheet := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(sheet, []byte("category,item,sub_item,quantity,unit_price,date\nRings,Band,Gold,1,100,2026-04-01\n"), 0o600))

	require.Equal(t, subcommands.ExitSuccess, run(t, "import", "-target", "sales", "-dry-run", sheet))
	assert.Contains(t, out.String(), `"dry_run": true`)

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, "import", "-target", "sales", sheet))
	assert.Contains(t, out.String(), `"imported": 1`)

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, "summary", "-format", "json"))
	assert.Contains(t, out.String(), `"oversold_count": 1`)

	assert.Equal(t, subcommands.ExitUsageError, run(t, "import", "-target", "sales"))

	out.Reset()
	require.Equal(t, subcommands.ExitSuccess, run(t, "template", "-target", "catalog"))
	assert.True(t, strings.HasPrefix(out.String(), "\ufeff"))
}
