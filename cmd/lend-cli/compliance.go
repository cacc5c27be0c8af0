package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

func runKYCCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("kyc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	address := fs.String("address", "", "principal address (bech32)")
	status := fs.String("status", "", "new KYC status (unverified, pending, verified, rejected); omit to query")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	principal := strings.TrimSpace(*address)
	if principal == "" {
		fmt.Fprintln(stderr, "Error: --address is required")
		return 1
	}

	target := strings.ToLower(strings.TrimSpace(*status))
	if target == "" {
		result, rpcErr, err := lendRPCCall("compliance_status", principal, true)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		writeRPCResult(stdout, result)
		return 0
	}

	switch target {
	case "unverified", "pending", "verified", "rejected":
	default:
		fmt.Fprintf(stderr, "Error: unknown KYC status %q\n", target)
		return 1
	}
	params := map[string]interface{}{
		"address": principal,
		"status":  target,
	}
	result, rpcErr, err := lendRPCCall("compliance_setKYCStatus", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runFreezeCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("freeze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	address := fs.String("address", "", "principal address (bech32)")
	clear := fs.Bool("clear", false, "lift the freeze instead of applying it")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	principal := strings.TrimSpace(*address)
	if principal == "" {
		fmt.Fprintln(stderr, "Error: --address is required")
		return 1
	}
	method := "compliance_freeze"
	if *clear {
		method = "compliance_unfreeze"
	}
	result, rpcErr, err := lendRPCCall(method, principal, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}
