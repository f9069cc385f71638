package main

import "testing"

func TestNewRootCmdIncludesSubcommands(t *testing.T) {
	cmd := newRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "validate-config"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestNewRootCmdDefaultsConfigPath(t *testing.T) {
	cmd := newRootCmd()
	flag := cmd.PersistentFlags().Lookup("config")
	if flag == nil {
		t.Fatal("expected a --config persistent flag")
	}
	if flag.DefValue != "turnengine.yaml" {
		t.Fatalf("default config path = %q, want turnengine.yaml", flag.DefValue)
	}
}
