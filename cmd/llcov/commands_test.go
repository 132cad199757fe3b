package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/llcov/internal/sink"
)

// clearEnv unsets the LLCOV_* variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "LLCOV_") {
			t.Setenv(key, "")
			require.NoError(t, os.Unsetenv(key))
		}
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "llcov version 0.1.0")
	assert.Contains(t, out.String(), "Go version:")
}

func TestInstrumentCmd(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	src := writeSource(t, dir, "main.go", absSource)

	cmd := newInstrumentCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"-v", src})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `llcovrt.BlockCall("main.abs", "`+src+`", 4, 0)`)
	assert.Contains(t, errOut.String(), "2 functions, 4 blocks")
}

func TestInstrumentCmd_Blacklist(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	src := writeSource(t, dir, "main.go", absSource)
	t.Setenv("LLCOV_BLACKLIST", writeSource(t, dir, "bl.txt", "func:example.com/tool.abs\n"))

	cmd := newInstrumentCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--package", "example.com/tool", src})

	require.NoError(t, cmd.Execute())
	assert.NotContains(t, out.String(), `"example.com/tool.abs"`)
	assert.Contains(t, out.String(), `llcovrt.BlockCall("example.com/tool.main"`)
}

func TestInstrumentCmd_SyntaxError(t *testing.T) {
	clearEnv(t)
	src := writeSource(t, t.TempDir(), "broken.go", "package main\n\nfunc main() {\n")

	cmd := newInstrumentCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{src})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.go")
}

func TestListenCmd(t *testing.T) {
	clearEnv(t)
	output := filepath.Join(t.TempDir(), "seen.txt")

	// Reserve a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newListenCmd()
	cmd.SetArgs([]string{"--addr", addr, "--output", output, "--dedup"})
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var conn net.Conn
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", addr)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	ev := sink.Event{Function: "main.f", File: "/src/main.go", Line: 3, Relblock: 1}
	line := sink.LineEncoder.Encode(nil, ev)
	_, err = conn.Write(append(line, line...))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	want := string(sink.FileEncoder.Encode(nil, ev))
	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(output)
		return string(data) == want
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop")
	}
}
