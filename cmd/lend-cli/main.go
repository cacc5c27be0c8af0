package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"vaultlend/cmd/internal/token"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via VAULTLEND_RPC_URL or --rpc flag
var authToken = token.NewSource("VAULTLEND_RPC_TOKEN")

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(runCommand(args, os.Stdout, os.Stderr))
}

func runCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, lendUsage())
		return 1
	}

	switch args[0] {
	case "position":
		return runPositionCommand(args[1:], stdout, stderr)
	case "market":
		return runMarketCommand(args[1:], stdout, stderr)
	case "reserves":
		return runReservesCommand(args[1:], stdout, stderr)
	case "pause":
		return runPauseCommand(args[1:], stdout, stderr)
	case "resume":
		return runResumeCommand(args[1:], stdout, stderr)
	case "set-rates":
		return runSetRatesCommand(args[1:], stdout, stderr)
	case "set-risk":
		return runSetRiskCommand(args[1:], stdout, stderr)
	case "distribute":
		return runDistributeCommand(args[1:], stdout, stderr)
	case "kyc":
		return runKYCCommand(args[1:], stdout, stderr)
	case "freeze":
		return runFreezeCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, lendUsage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n%s\n", args[0], lendUsage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("VAULTLEND_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:7101"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func lendUsage() string {
	return strings.TrimSpace(`Usage:
  lend-cli [--rpc <endpoint>] <command> [flags]

Commands:
  position    Fetch a principal's collateral and debt position
  market      Show live utilization and interest rates
  reserves    Show pool liquidity and protocol reserves
  pause       Pause one or more protocol operations
  resume      Resume previously paused operations
  set-rates   Update the interest rate model
  set-risk    Update liquidation risk limits
  distribute  Distribute collected fees to the treasury
  kyc         Query or update a principal's KYC status
  freeze      Freeze or unfreeze a principal

Environment:
  VAULTLEND_RPC_URL    RPC endpoint (default http://localhost:7101)
  VAULTLEND_RPC_TOKEN  Bearer token for privileged calls; prompted when unset
`)
}
