package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/busybox42/memstate/internal/store"
	"github.com/busybox42/memstate/pkg/client"
	"github.com/busybox42/memstate/pkg/network"
	"github.com/busybox42/memstate/pkg/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCLI(t *testing.T) (*MemstateCLI, *bytes.Buffer) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	srv := httptest.NewServer(network.NewHandler(store.NewLocal(), protocol.APIPrefix, 1<<20, logger))
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return newMemstateCLI(c, out), out
}

// TestNewMemstateCLI ensures that a new CLI instance is properly initialized.
func TestNewMemstateCLI(t *testing.T) {
	cli, _ := newTestCLI(t)
	if cli == nil {
		t.Fatal("Failed to initialize MemstateCLI")
	}
	if cli.client == nil {
		t.Fatal("CLI has no client")
	}
}

func TestExecuteCommands(t *testing.T) {
	cli, out := newTestCLI(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "status", input: "status", want: "Server status: Healthy"},
		{name: "zero", input: "zero abcd 0x10000", want: "Initialised abcd with 65536 zero bytes"},
		{name: "write hex", input: "write abcd 0x10 0xFF", want: "abcd[0x10] = 0xff"},
		{name: "write decimal", input: "write abcd 26 254", want: "abcd[0x1a] = 0xfe"},
		{name: "read", input: "read abcd 16", want: "abcd[0x10] = 255 (0xff)"},
		{name: "write unpadded", input: "write abcd 1 9", want: "abcd[0x1] = 0x9\n"},
		{name: "read unpadded", input: "read abcd 1", want: "abcd[0x1] = 9 (0x9)\n"},
		{name: "range", input: "range abcd 0x10 0x10", want: "ff 00 00 00 00 00 00 00  00 00 fe 00 00 00 00 00"},
		{name: "unknown id", input: "read nope 0", want: "Failed to read"},
		{name: "address too wide", input: "read abcd 0x10000", want: "Invalid address"},
		{name: "value too wide", input: "write abcd 0 256", want: "Invalid value"},
		{name: "usage", input: "write abcd", want: "Usage: write <id> <address> <value>"},
		{name: "unknown command", input: "poke", want: "Unknown command: poke"},
		{name: "help", input: "help", want: "Available commands:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			assert.True(t, cli.execute(ctx, tt.input))
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestExecuteExit(t *testing.T) {
	cli, _ := newTestCLI(t)
	assert.False(t, cli.execute(context.Background(), "exit"))
	assert.True(t, cli.execute(context.Background(), ""))
}

func TestInitFromFile(t *testing.T) {
	cli, out := newTestCLI(t)
	path := filepath.Join(t.TempDir(), "rom.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4}, 0600))

	ctx := context.Background()
	require.True(t, cli.execute(ctx, "init rom "+path))
	assert.Contains(t, out.String(), "Initialised rom with 4 bytes")

	out.Reset()
	require.True(t, cli.execute(ctx, "read rom 3"))
	assert.Contains(t, out.String(), "rom[0x3] = 4 (0x4)")

	out.Reset()
	require.True(t, cli.execute(ctx, "init rom "+filepath.Join(t.TempDir(), "missing.bin")))
	assert.Contains(t, out.String(), "Failed to initialise rom")
}

func TestRunReadsUntilExit(t *testing.T) {
	cli, out := newTestCLI(t)

	in := strings.NewReader("zero rom 4\nwrite rom 1 9\nexit\nread rom 1\n")
	require.NoError(t, cli.run(context.Background(), in))

	assert.Contains(t, out.String(), "rom[0x1] = 0x9")
	assert.NotContains(t, out.String(), "= 9 (0x9)")
}

func TestRunStopsAtEOF(t *testing.T) {
	cli, out := newTestCLI(t)

	require.NoError(t, cli.run(context.Background(), strings.NewReader("status")))
	assert.Contains(t, out.String(), "Server status: Healthy")
}
