package cli

import "testing"

func TestRootCmdRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	if !names["ingest"] {
		t.Fatalf("expected ingest subcommand to be registered")
	}
	if !names["reprocess"] {
		t.Fatalf("expected reprocess subcommand to be registered")
	}
}
