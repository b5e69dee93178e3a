package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// isolate points config and state at fresh directories so runs never see
// the developer's own files.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	t.Setenv("VAULTFLOW_CONFIG", "")
	t.Setenv("VAULTFLOW_REDIS_URL", "")
	t.Setenv("VAULTFLOW_AMQP_URL", "")
	t.Setenv("VAULTFLOW_BACKEND_TOKEN", "")
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run(append(args, "--log-level", "error"))
	return code, stdout.String(), stderr.String()
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("vaultflow withdraw run"); got != "withdraw run" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout) == "" {
		t.Fatalf("expected version output")
	}
}

func TestRunnerChainsList(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "chains", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout)
	}
	supported := map[string]bool{}
	for _, c := range out {
		supported[c["slug"].(string)] = c["supported"].(bool)
	}
	if !supported["base"] {
		t.Fatalf("expected base to be supported: %v", supported)
	}
	if s, ok := supported["avalanche"]; !ok || s {
		t.Fatalf("expected avalanche listed without a factory: %v", supported)
	}
}

func TestRunnerFlowsListEmpty(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "flows", "list", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("expected empty list, got %s", stdout)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "flows", "list", "--kind", "bridge", "--results-only")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(stderr), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr)
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	errBody := env["error"].(map[string]any)
	if errBody["type"] != "usage_error" {
		t.Fatalf("unexpected error type: %v", errBody["type"])
	}
}

func TestRunnerDepositRequiresChainWithoutHistory(t *testing.T) {
	isolate(t)
	code, _, stderr := run(t, "deposit", "--amount-decimal", "5", "--yes")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr)
	}
	if !strings.Contains(stderr, "--chain is required") {
		t.Fatalf("expected chain hint, got %s", stderr)
	}
}

func TestRunnerDepositOnChainWithoutFactoryRecordsFailure(t *testing.T) {
	isolate(t)
	t.Setenv("VAULTFLOW_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")

	code, _, stderr := run(t, "deposit", "--chain", "avalanche", "--amount-decimal", "5", "--yes")
	if code != 13 {
		t.Fatalf("expected exit 13, got %d stderr=%s", code, stderr)
	}
	var env struct {
		Error struct {
			Type string `json:"type"`
			Step string `json:"step"`
		} `json:"error"`
		Data struct {
			Step        string `json:"step"`
			ErrorAtStep string `json:"error_at_step"`
		} `json:"data"`
		Meta struct {
			FlowID  string `json:"flow_id"`
			ChainID string `json:"chain_id"`
		} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(stderr), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr)
	}
	if env.Error.Type != "unsupported" || env.Error.Step != "checking_vault" {
		t.Fatalf("unexpected error body: %+v", env.Error)
	}
	if env.Data.Step != "error" || env.Data.ErrorAtStep != "checking_vault" {
		t.Fatalf("unexpected flow data: %+v", env.Data)
	}
	if env.Meta.FlowID == "" || env.Meta.ChainID != "eip155:43114" {
		t.Fatalf("unexpected meta: %+v", env.Meta)
	}

	code, stdout, stderr := run(t, "flows", "list", "--kind", "deposit", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var flows []map[string]any
	if err := json.Unmarshal([]byte(stdout), &flows); err != nil {
		t.Fatalf("failed to parse flows: %v output=%s", err, stdout)
	}
	if len(flows) != 1 || flows[0]["flow_id"] != env.Meta.FlowID || flows[0]["error_at_step"] != "checking_vault" {
		t.Fatalf("unexpected history: %v", flows)
	}

	// The failed flow's chain becomes the default for the next deposit.
	code, _, stderr = run(t, "deposit", "--amount-decimal", "1", "--yes")
	if code != 13 {
		t.Fatalf("expected remembered chain to fail the same way, got %d stderr=%s", code, stderr)
	}
}

func TestWithdrawPromptMentionsUnwind(t *testing.T) {
	if got := withdrawPrompt(chainForTest(), previewForTest(true)); !strings.Contains(got, "unwound by the agent") {
		t.Fatalf("expected unwind notice, got %q", got)
	}
	if got := withdrawPrompt(chainForTest(), previewForTest(false)); strings.Contains(got, "unwound") {
		t.Fatalf("unexpected unwind notice, got %q", got)
	}
}

func TestRunnerSchemaMarksSigningCommands(t *testing.T) {
	isolate(t)
	code, stdout, stderr := run(t, "schema", "withdraw", "--results-only")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr)
	}
	var out struct {
		Signs       bool `json:"signs_transactions"`
		Subcommands []struct {
			Path  string `json:"path"`
			Signs bool   `json:"signs_transactions"`
		} `json:"subcommands"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("failed to parse schema: %v output=%s", err, stdout)
	}
	signs := map[string]bool{}
	for _, sub := range out.Subcommands {
		signs[sub.Path] = sub.Signs
	}
	if !out.Signs || !signs["vaultflow withdraw run"] || signs["vaultflow withdraw preflight"] {
		t.Fatalf("unexpected schema: %+v", out)
	}
}
