package main

import (
	"strings"
	"testing"
)

func TestRunCommandFlags(t *testing.T) {
	for _, name := range []string{"listen", "log-level", "dry-run", "no-reload"} {
		if runCmd.Flags().Lookup(name) == nil {
			t.Errorf("run is missing --%s", name)
		}
	}
}

// config.Initialize loads once per process, so this is the only test that
// goes through the run command.
func TestRunDryRun(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{})

	out, err := executeCommand(t, "run", "--config", cfgPath, "--dry-run", "--listen", "127.0.0.1:18080")
	if err != nil {
		t.Fatalf("run --dry-run error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
