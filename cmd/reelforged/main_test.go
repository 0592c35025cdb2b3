package main

import (
	"testing"
)

func TestCommandFlags(t *testing.T) {
	cmd := newCommand()
	if err := cmd.ParseFlags([]string{"--config", "/tmp/reelforge.toml", "--log-level", "debug", "--foreground"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	for name, want := range map[string]string{
		"config":     "/tmp/reelforge.toml",
		"log-level":  "debug",
		"foreground": "true",
		"dev":        "false",
	} {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			t.Fatalf("missing flag %q", name)
		}
		if flag.Value.String() != want {
			t.Errorf("flag %q = %q, want %q", name, flag.Value.String(), want)
		}
	}
}

func TestCommandRejectsArgs(t *testing.T) {
	cmd := newCommand()
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}
