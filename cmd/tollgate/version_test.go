package main

import (
	"bytes"
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestVersionDefaults(t *testing.T) {
	origVersion := Version
	origGitCommit := GitCommit
	origBuildDate := BuildDate
	defer func() {
		Version = origVersion
		GitCommit = origGitCommit
		BuildDate = origBuildDate
	}()

	Version = "0.1.0-test"
	GitCommit = "abc123"
	BuildDate = "2026-10-01"

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)
	versionFlags.format = "text"
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version error = %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "Tollgate 0.1.0-test\n") {
		t.Errorf("version output should start with the release line:\n%s", out)
	}
	for _, want := range []string{"Git Commit:", "abc123", "Build Date:", "2026-10-01", runtime.Version()} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)
	versionFlags.format = "json"
	defer func() { versionFlags.format = "text" }()

	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version error = %v", err)
	}

	var info buildInfo
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, buf.String())
	}
	if info.Version != Version || info.GoVersion != runtime.Version() {
		t.Errorf("unexpected build info %+v", info)
	}
}

func TestVersionBadFormat(t *testing.T) {
	versionFlags.format = "yaml"
	defer func() { versionFlags.format = "text" }()

	if err := versionCmd.RunE(versionCmd, nil); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestVersionCommandExists(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}

	if versionCmd.Use != "version" {
		t.Errorf("versionCmd.Use = %q, want %q", versionCmd.Use, "version")
	}

	if versionCmd.Short == "" {
		t.Error("versionCmd.Short should not be empty")
	}

	if versionCmd.RunE == nil {
		t.Error("versionCmd.RunE should not be nil")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "ratelimit": false, "validate": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q is not registered", name)
		}
	}
}
