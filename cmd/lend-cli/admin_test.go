package main

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestPauseCommandMergesLiveSwitches(t *testing.T) {
	admin := cliTestAddress(0xA1)
	var captured map[string]interface{}
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		switch method {
		case "lend_getParams":
			if requireAuth {
				t.Fatal("params read must not require auth")
			}
			return json.RawMessage(`{"risk":{"pauses":{"deposit":false,"borrow":true,"withdraw":false,"liquidate":false}}}`), nil, nil
		case "admin_setPauses":
			if !requireAuth {
				t.Fatal("setPauses must require auth")
			}
			captured = params.(map[string]interface{})
			return json.RawMessage(`{"txHash":"0xfeed"}`), nil, nil
		default:
			t.Fatalf("unexpected method: %s", method)
			return nil, nil, nil
		}
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	exit := runPauseCommand([]string{"--caller", admin, "--deposit"}, stdout, stderr)
	if exit != 0 {
		t.Fatalf("unexpected exit code: got %d (stderr %q)", exit, stderr.String())
	}
	if captured == nil {
		t.Fatal("setPauses was never called")
	}
	if captured["caller"] != admin {
		t.Fatalf("unexpected caller: %v", captured["caller"])
	}
	if captured["deposit"] != true {
		t.Fatal("deposit switch should be paused")
	}
	if captured["borrow"] != true {
		t.Fatal("borrow switch was already paused and must stay paused")
	}
	if captured["withdraw"] != false || captured["liquidate"] != false {
		t.Fatalf("untouched switches must keep their state: %v", captured)
	}
	if stdout.String() != "{\"txHash\":\"0xfeed\"}\n" {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestResumeCommandClearsOnlyRequested(t *testing.T) {
	admin := cliTestAddress(0xA1)
	var captured map[string]interface{}
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		switch method {
		case "lend_getParams":
			return json.RawMessage(`{"risk":{"pauses":{"deposit":true,"borrow":true,"withdraw":true,"liquidate":true}}}`), nil, nil
		case "admin_setPauses":
			captured = params.(map[string]interface{})
			return json.RawMessage(`{"txHash":"0xbeef"}`), nil, nil
		default:
			t.Fatalf("unexpected method: %s", method)
			return nil, nil, nil
		}
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runResumeCommand([]string{"--caller", admin, "--borrow"}, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: got %d (stderr %q)", exit, stderr.String())
	}
	if captured["borrow"] != false {
		t.Fatal("borrow switch should be resumed")
	}
	if captured["deposit"] != true || captured["withdraw"] != true || captured["liquidate"] != true {
		t.Fatalf("other switches must stay paused: %v", captured)
	}
}

func TestPauseCommandRequiresSwitch(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runPauseCommand([]string{"--caller", cliTestAddress(0xA1)}, stdout, stderr); exit != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exit)
	}
	want := "Error: select at least one of --deposit, --borrow, --withdraw, --liquidate or pass --all\n"
	if stderr.String() != want {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestPauseCommandRequiresCaller(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if exit := runPauseCommand([]string{"--all"}, stdout, stderr); exit != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exit)
	}
	if stderr.String() != "Error: --caller is required\n" {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestSetRatesCommandSendsFullModel(t *testing.T) {
	admin := cliTestAddress(0xA1)
	var captured map[string]interface{}
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		if method != "admin_setInterestRate" {
			t.Fatalf("unexpected method: %s", method)
		}
		if !requireAuth {
			t.Fatal("rate changes must require auth")
		}
		captured = params.(map[string]interface{})
		return json.RawMessage(`{"txHash":"0x1"}`), nil, nil
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{
		"--caller", admin,
		"--base-rate", "2000000",
		"--kink", "80000000",
		"--multiplier", "10000000",
		"--reserve-factor", "10000000",
		"--ceiling", "50000000",
	}
	if exit := runSetRatesCommand(args, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: got %d (stderr %q)", exit, stderr.String())
	}
	want := map[string]int64{
		"baseRate":        2000000,
		"kinkUtilization": 80000000,
		"multiplier":      10000000,
		"reserveFactor":   10000000,
		"rateCeiling":     50000000,
		"rateFloor":       0,
	}
	for field, value := range want {
		if captured[field] != value {
			t.Fatalf("unexpected %s: got %v, want %d", field, captured[field], value)
		}
	}
}

func TestSetRatesCommandEmergencyPath(t *testing.T) {
	admin := cliTestAddress(0xA1)
	var captured map[string]interface{}
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		if method != "admin_emergencyRateAdjustment" {
			t.Fatalf("unexpected method: %s", method)
		}
		captured = params.(map[string]interface{})
		return json.RawMessage(`{"txHash":"0x2"}`), nil, nil
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"--caller", admin, "--emergency", "--base-rate", "9000000", "--multiplier", "20000000"}
	if exit := runSetRatesCommand(args, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: got %d (stderr %q)", exit, stderr.String())
	}
	if captured["baseRate"] != int64(9000000) || captured["multiplier"] != int64(20000000) {
		t.Fatalf("unexpected params: %v", captured)
	}
	if _, ok := captured["kinkUtilization"]; ok {
		t.Fatal("emergency adjustment must not carry the full model")
	}
}

func TestSetRatesCommandRejectsEmergencyExtras(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"--caller", cliTestAddress(0xA1), "--emergency", "--base-rate", "1", "--multiplier", "2", "--kink", "3"}
	if exit := runSetRatesCommand(args, stdout, stderr); exit != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exit)
	}
	if stderr.String() != "Error: --emergency only takes --base-rate and --multiplier\n" {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestSetRatesCommandRequiresCompleteModel(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"--caller", cliTestAddress(0xA1), "--base-rate", "1", "--kink", "2"}
	if exit := runSetRatesCommand(args, stdout, stderr); exit != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exit)
	}
	want := "Error: --base-rate, --kink, --multiplier, --reserve-factor and --ceiling are required\n"
	if stderr.String() != want {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestSetRiskCommandPairsRiskFlags(t *testing.T) {
	rejectRPC(t)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"--caller", cliTestAddress(0xA1), "--close-factor", "50000000"}
	if exit := runSetRiskCommand(args, stdout, stderr); exit != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exit)
	}
	if stderr.String() != "Error: --close-factor and --incentive must be set together\n" {
		t.Fatalf("unexpected stderr: %q", stderr.String())
	}
}

func TestSetRiskCommandSendsBothCalls(t *testing.T) {
	admin := cliTestAddress(0xA1)
	var methods []string
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		methods = append(methods, method)
		fields := params.(map[string]interface{})
		switch method {
		case "admin_setRiskParams":
			if fields["closeFactor"] != int64(50000000) || fields["liquidationIncentive"] != int64(5000000) {
				t.Fatalf("unexpected risk params: %v", fields)
			}
		case "admin_setMinCollateralRatio":
			if fields["ratio"] != int64(150000000) {
				t.Fatalf("unexpected ratio params: %v", fields)
			}
		default:
			t.Fatalf("unexpected method: %s", method)
		}
		return json.RawMessage(`{"txHash":"0x3"}`), nil, nil
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{
		"--caller", admin,
		"--close-factor", "50000000",
		"--incentive", "5000000",
		"--min-ratio", "150000000",
	}
	if exit := runSetRiskCommand(args, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: got %d (stderr %q)", exit, stderr.String())
	}
	if len(methods) != 2 || methods[0] != "admin_setRiskParams" || methods[1] != "admin_setMinCollateralRatio" {
		t.Fatalf("unexpected call order: %v", methods)
	}
}

func TestDistributeCommandNormalizesAmount(t *testing.T) {
	admin := cliTestAddress(0xA1)
	var captured map[string]interface{}
	stubRPC(t, func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		if method != "admin_distributeFees" {
			t.Fatalf("unexpected method: %s", method)
		}
		captured = params.(map[string]interface{})
		return json.RawMessage(`{"txHash":"0x4"}`), nil, nil
	})

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"--caller", admin, "--amount", "2.5e18"}
	if exit := runDistributeCommand(args, stdout, stderr); exit != 0 {
		t.Fatalf("unexpected exit code: got %d (stderr %q)", exit, stderr.String())
	}
	if captured["amount"] != "2500000000000000000" {
		t.Fatalf("unexpected amount: %v", captured["amount"])
	}
}

func TestNormalizeLendAmount(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "100", want: "100"},
		{input: "00100", want: "100"},
		{input: "1_000_000", want: "1000000"},
		{input: "100e18", want: "100000000000000000000"},
		{input: "0.5e18", want: "500000000000000000"},
		{input: "1.0", want: "1"},
		{input: "1.23e-1", wantErr: true},
		{input: "-10", wantErr: true},
		{input: "abc", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := normalizeLendAmount(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected result: got %q, want %q", got, tc.want)
			}
		})
	}
}
