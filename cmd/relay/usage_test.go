package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/usage"
	usagestorage "mercator-hq/relay/pkg/usage/storage"
)

// seedUsage writes records straight into the usage database named by the
// config at cfgPath.
func seedUsage(t *testing.T, cfgPath string, records ...*usage.Record) {
	t.Helper()
	cfg, err := config.LoadConfigWithEnvOverrides(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	store, err := usagestorage.Open(cfg.Usage.SQLite)
	if err != nil {
		t.Fatalf("failed to open usage storage: %v", err)
	}
	defer store.Close()

	for _, rec := range records {
		if err := store.Store(context.Background(), rec); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}
}

func testRecord(id, keyID string, ts time.Time, input, output int64) *usage.Record {
	return &usage.Record{
		ID:            id,
		RequestID:     "req-" + id,
		KeyID:         keyID,
		BackendID:     "primary",
		Timestamp:     ts,
		Method:        "POST",
		Path:          "/v1/messages",
		Model:         "claude-sonnet-4",
		Outcome:       usage.OutcomeSuccess,
		StatusCode:    200,
		Attempts:      1,
		Duration:      120 * time.Millisecond,
		RequestUnits:  input,
		ResponseUnits: output,
	}
}

// ============ Usage Tests ============

func TestUsage_DailyTotals(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{})
	now := time.Now().UTC()
	seedUsage(t, cfgPath,
		testRecord("r1", "key-a", now.Add(-time.Minute), 10, 20),
		testRecord("r2", "key-a", now.Add(-2*time.Minute), 5, 5),
		testRecord("r3", "key-b", now.Add(-3*time.Minute), 1, 1),
	)

	out, err := executeCommand(t, "usage", "--config", cfgPath, "--key", "key-a", "--output", "json")
	if err != nil {
		t.Fatalf("usage error = %v\n%s", err, out)
	}

	var days []usage.Summary
	if err := json.Unmarshal([]byte(out), &days); err != nil {
		t.Fatalf("usage output is not JSON: %v\n%s", err, out)
	}
	total := usage.Total(days)
	if total.Requests != 2 {
		t.Errorf("requests = %d, want 2", total.Requests)
	}
	if total.InputTokens != 15 || total.OutputTokens != 25 {
		t.Errorf("tokens = %d/%d, want 15/25", total.InputTokens, total.OutputTokens)
	}
}

func TestUsage_AllKeysTable(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{})
	now := time.Now().UTC()
	seedUsage(t, cfgPath,
		testRecord("r1", "key-a", now.Add(-time.Minute), 10, 20),
		testRecord("r2", "key-b", now.Add(-time.Minute), 1, 1),
	)

	out, err := executeCommand(t, "usage", "--config", cfgPath)
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	for _, want := range []string{"DAY", "TOTAL", now.Add(-time.Minute).Format(time.DateOnly)} {
		if !strings.Contains(out, want) {
			t.Errorf("usage table missing %q:\n%s", want, out)
		}
	}
}

func TestUsage_Records(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{})
	now := time.Now().UTC()
	seedUsage(t, cfgPath,
		testRecord("r1", "key-a", now.Add(-3*time.Minute), 1, 1),
		testRecord("r2", "key-a", now.Add(-2*time.Minute), 1, 1),
		testRecord("r3", "key-a", now.Add(-time.Minute), 1, 1),
	)

	out, err := executeCommand(t, "usage", "--config", cfgPath, "--key", "key-a", "--records", "2", "--output", "csv")
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("usage output is not CSV: %v\n%s", err, out)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d CSV rows, want header + 2", len(rows))
	}
	if rows[1][1] != "key-a" || rows[1][4] != string(usage.OutcomeSuccess) {
		t.Errorf("unexpected record row %v", rows[1])
	}
}

func TestUsage_OutsideRange(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{})
	seedUsage(t, cfgPath, testRecord("old", "key-a", time.Date(2020, 1, 15, 12, 0, 0, 0, time.UTC), 10, 10))

	out, err := executeCommand(t, "usage", "--config", cfgPath, "--from", "2020-01-16", "--to", "2020-01-31", "--output", "json")
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	var days []usage.Summary
	if err := json.Unmarshal([]byte(out), &days); err != nil {
		t.Fatalf("usage output is not JSON: %v\n%s", err, out)
	}
	if len(days) != 0 {
		t.Errorf("got %d days, want none outside the range", len(days))
	}

	out, err = executeCommand(t, "usage", "--config", cfgPath, "--from", "2020-01-15", "--to", "2020-01-15", "--output", "json")
	if err != nil {
		t.Fatalf("usage error = %v", err)
	}
	if err := json.Unmarshal([]byte(out), &days); err != nil {
		t.Fatalf("usage output is not JSON: %v\n%s", err, out)
	}
	if len(days) != 1 {
		t.Errorf("got %d days, want the whole of 2020-01-15", len(days))
	}
}

func TestUsage_InvalidRange(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{})

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad from", args: []string{"--from", "yesterday"}},
		{name: "bad to", args: []string{"--to", "2026-13-40"}},
		{name: "reversed", args: []string{"--from", "2026-02-01", "--to", "2026-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, append([]string{"usage", "--config", cfgPath}, tt.args...)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := cli.ExitCode(err); code != cli.ExitFailure {
				t.Errorf("exit code = %d, want %d", code, cli.ExitFailure)
			}
		})
	}
}

func TestUsage_Disabled(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{usageDisabled: true})

	_, err := executeCommand(t, "usage", "--config", cfgPath)
	if err == nil {
		t.Fatal("expected error when usage is disabled")
	}
	if code := cli.ExitCode(err); code != cli.ExitConfig {
		t.Errorf("exit code = %d, want %d", code, cli.ExitConfig)
	}
}
