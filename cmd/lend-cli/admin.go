package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

type pauseSwitches struct {
	Deposit   bool `json:"deposit"`
	Borrow    bool `json:"borrow"`
	Withdraw  bool `json:"withdraw"`
	Liquidate bool `json:"liquidate"`
}

func runPauseCommand(args []string, stdout, stderr io.Writer) int {
	return runPauseToggle("pause", true, args, stdout, stderr)
}

func runResumeCommand(args []string, stdout, stderr io.Writer) int {
	return runPauseToggle("resume", false, args, stdout, stderr)
}

// runPauseToggle reads the live switch state first so switches the
// operator did not name keep their setting when the full set is
// written back.
func runPauseToggle(name string, paused bool, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	caller := fs.String("caller", "", "admin address (bech32)")
	deposit := fs.Bool("deposit", false, "toggle the deposit switch")
	borrow := fs.Bool("borrow", false, "toggle the borrow switch")
	withdraw := fs.Bool("withdraw", false, "toggle the withdraw switch")
	liquidate := fs.Bool("liquidate", false, "toggle the liquidate switch")
	all := fs.Bool("all", false, "toggle every switch")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	admin := strings.TrimSpace(*caller)
	if admin == "" {
		fmt.Fprintln(stderr, "Error: --caller is required")
		return 1
	}
	if *all {
		*deposit, *borrow, *withdraw, *liquidate = true, true, true, true
	}
	if !*deposit && !*borrow && !*withdraw && !*liquidate {
		fmt.Fprintln(stderr, "Error: select at least one of --deposit, --borrow, --withdraw, --liquidate or pass --all")
		return 1
	}

	switches, exit := fetchPauseSwitches(stderr)
	if exit != 0 {
		return exit
	}
	if *deposit {
		switches.Deposit = paused
	}
	if *borrow {
		switches.Borrow = paused
	}
	if *withdraw {
		switches.Withdraw = paused
	}
	if *liquidate {
		switches.Liquidate = paused
	}

	params := map[string]interface{}{
		"caller":    admin,
		"deposit":   switches.Deposit,
		"borrow":    switches.Borrow,
		"withdraw":  switches.Withdraw,
		"liquidate": switches.Liquidate,
	}
	result, rpcErr, err := lendRPCCall("admin_setPauses", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func fetchPauseSwitches(stderr io.Writer) (pauseSwitches, int) {
	result, rpcErr, err := lendRPCCall("lend_getParams", nil, false)
	if err != nil {
		return pauseSwitches{}, handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return pauseSwitches{}, handleRPCError(stderr, rpcErr)
	}
	var params struct {
		Risk struct {
			Pauses pauseSwitches `json:"pauses"`
		} `json:"risk"`
	}
	if err := json.Unmarshal(result, &params); err != nil {
		fmt.Fprintf(stderr, "Error: failed to decode protocol params: %v\n", err)
		return pauseSwitches{}, 1
	}
	return params.Risk.Pauses, 0
}

func runSetRatesCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("set-rates", flag.ContinueOnError)
	fs.SetOutput(stderr)
	caller := fs.String("caller", "", "admin address (bech32)")
	baseRate := fs.Int64("base-rate", -1, "annual base borrow rate, 1e8 fixed point")
	kink := fs.Int64("kink", -1, "kink utilization, 1e8 fixed point")
	multiplier := fs.Int64("multiplier", -1, "rate slope above the kink, 1e8 fixed point")
	reserveFactor := fs.Int64("reserve-factor", -1, "reserve share of borrow interest, 1e8 fixed point")
	ceiling := fs.Int64("ceiling", -1, "borrow rate ceiling, 1e8 fixed point")
	floor := fs.Int64("floor", 0, "borrow rate floor, 1e8 fixed point")
	emergency := fs.Bool("emergency", false, "bypass the rate change cooldown with an emergency adjustment")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	admin := strings.TrimSpace(*caller)
	if admin == "" {
		fmt.Fprintln(stderr, "Error: --caller is required")
		return 1
	}

	if *emergency {
		if *kink >= 0 || *reserveFactor >= 0 || *ceiling >= 0 {
			fmt.Fprintln(stderr, "Error: --emergency only takes --base-rate and --multiplier")
			return 1
		}
		if *baseRate < 0 || *multiplier < 0 {
			fmt.Fprintln(stderr, "Error: --base-rate and --multiplier are required")
			return 1
		}
		params := map[string]interface{}{
			"caller":     admin,
			"baseRate":   *baseRate,
			"multiplier": *multiplier,
		}
		result, rpcErr, err := lendRPCCall("admin_emergencyRateAdjustment", params, true)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		writeRPCResult(stdout, result)
		return 0
	}

	if *baseRate < 0 || *kink < 0 || *multiplier < 0 || *reserveFactor < 0 || *ceiling < 0 {
		fmt.Fprintln(stderr, "Error: --base-rate, --kink, --multiplier, --reserve-factor and --ceiling are required")
		return 1
	}
	params := map[string]interface{}{
		"caller":          admin,
		"baseRate":        *baseRate,
		"kinkUtilization": *kink,
		"multiplier":      *multiplier,
		"reserveFactor":   *reserveFactor,
		"rateCeiling":     *ceiling,
		"rateFloor":       *floor,
	}
	result, rpcErr, err := lendRPCCall("admin_setInterestRate", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runSetRiskCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("set-risk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	caller := fs.String("caller", "", "admin address (bech32)")
	closeFactor := fs.Int64("close-factor", -1, "max debt fraction repayable per liquidation, 1e8 fixed point")
	incentive := fs.Int64("incentive", -1, "liquidator collateral bonus, 1e8 fixed point")
	minRatio := fs.Int64("min-ratio", -1, "minimum collateral ratio, 1e8 fixed point")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	admin := strings.TrimSpace(*caller)
	if admin == "" {
		fmt.Fprintln(stderr, "Error: --caller is required")
		return 1
	}
	hasRisk := *closeFactor >= 0 || *incentive >= 0
	if hasRisk && (*closeFactor < 0 || *incentive < 0) {
		fmt.Fprintln(stderr, "Error: --close-factor and --incentive must be set together")
		return 1
	}
	if !hasRisk && *minRatio < 0 {
		fmt.Fprintln(stderr, "Error: set --close-factor with --incentive, --min-ratio, or both")
		return 1
	}

	if hasRisk {
		params := map[string]interface{}{
			"caller":               admin,
			"closeFactor":          *closeFactor,
			"liquidationIncentive": *incentive,
		}
		result, rpcErr, err := lendRPCCall("admin_setRiskParams", params, true)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		writeRPCResult(stdout, result)
	}
	if *minRatio >= 0 {
		params := map[string]interface{}{
			"caller": admin,
			"ratio":  *minRatio,
		}
		result, rpcErr, err := lendRPCCall("admin_setMinCollateralRatio", params, true)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		writeRPCResult(stdout, result)
	}
	return 0
}

func runDistributeCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("distribute", flag.ContinueOnError)
	fs.SetOutput(stderr)
	caller := fs.String("caller", "", "admin address (bech32)")
	amount := fs.String("amount", "", "wei amount to distribute (supports 2.5e18 shorthand)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	admin := strings.TrimSpace(*caller)
	if admin == "" {
		fmt.Fprintln(stderr, "Error: --caller is required")
		return 1
	}
	if strings.TrimSpace(*amount) == "" {
		fmt.Fprintln(stderr, "Error: --amount is required")
		return 1
	}
	wei, err := normalizeLendAmount(*amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"caller": admin,
		"amount": wei,
	}
	result, rpcErr, err := lendRPCCall("admin_distributeFees", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}
