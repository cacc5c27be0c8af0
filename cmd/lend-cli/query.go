package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

func runPositionCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("position", flag.ContinueOnError)
	fs.SetOutput(stderr)
	address := fs.String("address", "", "principal address (bech32)")
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
	result, rpcErr, err := lendRPCCall("lend_getPosition", principal, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runMarketCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("market", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showParams := fs.Bool("params", false, "show protocol parameters instead of live rates")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	method := "lend_getRates"
	if *showParams {
		method = "lend_getParams"
	}
	result, rpcErr, err := lendRPCCall(method, nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runReservesCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reserves", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := lendRPCCall("lend_getReserves", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}
