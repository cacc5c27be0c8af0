package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestApplyGlobalFlagsStripsEndpoint(t *testing.T) {
	original := rpcEndpoint
	t.Cleanup(func() { rpcEndpoint = original })

	args, err := applyGlobalFlags([]string{"--rpc", "http://node:7101", "reserves"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rpcEndpoint != "http://node:7101" {
		t.Fatalf("unexpected endpoint: %q", rpcEndpoint)
	}
	if len(args) != 1 || args[0] != "reserves" {
		t.Fatalf("unexpected remaining args: %v", args)
	}

	args, err = applyGlobalFlags([]string{"--rpc=http://other:7101", "market"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rpcEndpoint != "http://other:7101" {
		t.Fatalf("unexpected endpoint: %q", rpcEndpoint)
	}
	if len(args) != 1 || args[0] != "market" {
		t.Fatalf("unexpected remaining args: %v", args)
	}

	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatal("expected error for dangling --rpc")
	}
}

func TestRunCommandDispatch(t *testing.T) {
	var gotMethod string
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		gotMethod = method
		return json.RawMessage(`{}`), nil, nil
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runCommand([]string{"reserves"}, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: got %d (stderr %q)", exit, stderr.String())
	}
	if gotMethod != "lend_getReserves" {
		t.Fatalf("unexpected method: %s", gotMethod)
	}
}

func TestRunCommandUnknown(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runCommand([]string{"teleport"}, stdout, stderr); exit != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exit)
	}
	if !strings.HasPrefix(stderr.String(), "Unknown command: teleport") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatal("stderr should include usage")
	}
}

func TestRunCommandNoArgsPrintsUsage(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runCommand(nil, stdout, stderr); exit != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exit)
	}
	if !strings.HasPrefix(stderr.String(), "Usage:") {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestRunCommandHelp(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runCommand([]string{"help"}, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: got %d, want 0", exit)
	}
	if !strings.HasPrefix(stdout.String(), "Usage:") {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("expected empty stderr, got %q", stderr.String())
	}
}
