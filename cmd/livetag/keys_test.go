package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeysCommand(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "configuration:\n  events:\n    \"tap.single.handleTap:.LoginButton\":\n      title: login\n"
	if err := os.WriteFile(rules, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write rules: %v", err)
	}

	cmd := newKeysCommand(&globalFlags{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"tap", "single", "handleTap:", "--view", "LoginButton", "--position", "1", "--rules", rules})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keys returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected 5 keys, got %d:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "tap.single.handleTap:.1.LoginButton") {
		t.Errorf("Most specific key should come first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], `-> title "login"`) {
		t.Errorf("Expected matching rule on second key, got %q", lines[1])
	}
	if strings.TrimSpace(strings.TrimLeft(lines[4], " 0123456789")) != "tap" {
		t.Errorf("Bare kind should come last, got %q", lines[4])
	}
}

func TestKeysCommand_UnknownKind(t *testing.T) {
	cmd := newKeysCommand(&globalFlags{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"wave", "up", "m:"})
	if err := cmd.Execute(); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

func TestKeysCommand_MissingRules(t *testing.T) {
	cmd := newKeysCommand(&globalFlags{})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"tap", "single", "handleTap:", "--rules", filepath.Join(t.TempDir(), "absent.yaml")})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keys returned error: %v", err)
	}

	if strings.Contains(out.String(), "->") {
		t.Errorf("No rule should match without loaded rules:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), "rules not loaded") {
		t.Errorf("Expected a load warning, got %q", errOut.String())
	}
}

func TestKeysCommand_GlobalIgnore(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rules, []byte("configuration:\n  rules:\n    ignoreSwipe: true\n"), 0644); err != nil {
		t.Fatalf("Failed to write rules: %v", err)
	}

	cmd := newKeysCommand(&globalFlags{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"swipe", "left", "next:", "--rules", rules})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keys returned error: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(out.String()), "ignoreSwipe: ignored") {
		t.Errorf("Expected global ignore first, got:\n%s", out.String())
	}
}
