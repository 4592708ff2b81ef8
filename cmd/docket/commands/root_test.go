package commands

import "testing"

func TestRootCommandSubcommands(t *testing.T) {
	expected := []string{
		"version", "start", "init", "stop", "status", "logs",
		"verify", "compact", "recover", "ls", "config", "completion",
	}

	registered := make(map[string]bool)
	for _, cmd := range GetRootCmd().Commands() {
		registered[cmd.Name()] = true
	}

	for _, name := range expected {
		if !registered[name] {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRootCommandSilencesCobraNoise(t *testing.T) {
	root := GetRootCmd()
	if !root.SilenceUsage {
		t.Error("SilenceUsage should be set so errors don't dump usage text")
	}
	if !root.SilenceErrors {
		t.Error("SilenceErrors should be set so main prints errors once")
	}
}
