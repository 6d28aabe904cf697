// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/muster/lib/config"
	"github.com/bureau-foundation/muster/lib/process"
)

func TestParseOptionsSplitsWorkloadCommand(t *testing.T) {
	opts, err := parseOptions([]string{
		"--dist-env-file", "/opt/ml/resourceconfig.json",
		"--artifact-root", "/data/artifacts",
		"--input", "graph=/data/graph",
		"--input", "config=/data/config",
		"--", "python3", "train.py", "--epochs", "3",
	})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if want := []string{"python3", "train.py", "--epochs", "3"}; !slices.Equal(opts.command, want) {
		t.Errorf("command = %q, want %q", opts.command, want)
	}
	if len(opts.inputs) != 2 {
		t.Errorf("inputs = %q, want two", opts.inputs)
	}
	if opts.artifactRoot != "/data/artifacts" {
		t.Errorf("artifactRoot = %q", opts.artifactRoot)
	}
	if opts.distEnvFile != "/opt/ml/resourceconfig.json" {
		t.Errorf("distEnvFile = %q", opts.distEnvFile)
	}
}

func TestParseOptionsWithoutCommand(t *testing.T) {
	opts, err := parseOptions([]string{"--dist-env", `{"hosts":["a"],"current_host":"a"}`})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if len(opts.command) != 0 {
		t.Errorf("command = %q, want none", opts.command)
	}
}

func TestParseOptionsRejects(t *testing.T) {
	for name, args := range map[string][]string{
		"stray argument":            {"train.py"},
		"argument before dash":      {"train.py", "--", "python3"},
		"output source only":        {"--artifact-root", "/b", "--output-source", "/opt/ml/model"},
		"input without store":       {"--input", "graph=/data"},
		"destination without store": {"--output-source", "/m", "--output-destination", "model"},
		"unknown flag":              {"--no-such-flag"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := parseOptions(args); err == nil {
				t.Errorf("parseOptions(%q) succeeded", args)
			}
		})
	}
}

func TestParseInputs(t *testing.T) {
	transfers, err := parseInputs([]string{"graph=/data/graph", "ckpt=/data/with=equals"})
	if err != nil {
		t.Fatalf("parseInputs: %v", err)
	}
	if transfers[0].Source != "graph" || transfers[0].Destination != "/data/graph" {
		t.Errorf("first transfer = %+v", transfers[0])
	}
	if transfers[1].Destination != "/data/with=equals" {
		t.Errorf("second transfer destination = %q, want split on the first =", transfers[1].Destination)
	}
	for _, bad := range []string{"graph", "=dir", "graph="} {
		if _, err := parseInputs([]string{bad}); err == nil {
			t.Errorf("parseInputs accepted %q", bad)
		}
	}
}

func TestLoadDescriptorPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "resourceconfig.json")
	if err := os.WriteFile(file, []byte(`{"hosts": ["from-file"], "current_host": "from-file",}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(distEnvVariable, `{"hosts": ["from-env"], "current_host": "from-env"}`)

	descriptor, err := loadDescriptor(&options{distEnv: `{"hosts": ["from-flag"], "current_host": "from-flag"}`, distEnvFile: file})
	if err != nil || descriptor.CurrentHost != "from-flag" {
		t.Errorf("with --dist-env: %+v, %v; want the flag to win", descriptor, err)
	}
	descriptor, err = loadDescriptor(&options{distEnvFile: file})
	if err != nil || descriptor.CurrentHost != "from-file" {
		t.Errorf("with --dist-env-file: %+v, %v; want the file", descriptor, err)
	}
	descriptor, err = loadDescriptor(&options{})
	if err != nil || descriptor.CurrentHost != "from-env" {
		t.Errorf("with only $%s: %+v, %v; want the variable", distEnvVariable, descriptor, err)
	}

	t.Setenv(distEnvVariable, "")
	if _, err := loadDescriptor(&options{}); err == nil {
		t.Error("loadDescriptor succeeded with no source")
	}
}

func TestLoadSettingsDefaultsWithoutFile(t *testing.T) {
	t.Setenv("MUSTER_CONFIG", "")
	settings, err := loadSettings(&options{})
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if settings.Connect.Attempts != config.Default().Connect.Attempts {
		t.Errorf("connect attempts = %d, want the default", settings.Connect.Attempts)
	}
}

func TestLoadSettingsFromFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muster.yaml")
	if err := os.WriteFile(path, []byte("connect:\n  attempts: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	settings, err := loadSettings(&options{configPath: path})
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if settings.Connect.Attempts != 5 {
		t.Errorf("connect attempts = %d, want 5", settings.Connect.Attempts)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	for _, test := range []struct {
		format   string
		wantJSON bool
	}{
		{"auto", true}, // a regular file is not a terminal
		{"json", true},
		{"text", false},
	} {
		t.Run(test.format, func(t *testing.T) {
			output, err := os.Create(filepath.Join(t.TempDir(), "log"))
			if err != nil {
				t.Fatal(err)
			}
			defer output.Close()

			logger, err := newLogger(output, config.LoggingConfig{Level: "info", Format: test.format}, "")
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			logger.Info("barrier released", "run_id", "r-1")
			logger.Debug("hidden at info")

			written, _ := os.ReadFile(output.Name())
			line := string(written)
			if strings.HasPrefix(line, "{") != test.wantJSON {
				t.Errorf("format %s wrote %q", test.format, line)
			}
			if strings.Contains(line, "hidden at info") {
				t.Error("debug record written at info level")
			}
		})
	}
}

func TestNewLoggerLevelOverride(t *testing.T) {
	output, err := os.Create(filepath.Join(t.TempDir(), "log"))
	if err != nil {
		t.Fatal(err)
	}
	defer output.Close()
	logger, err := newLogger(output, config.LoggingConfig{Level: "error", Format: "json"}, "debug")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("visible")
	written, _ := os.ReadFile(output.Name())
	if !strings.Contains(string(written), "visible") {
		t.Error("--log-level did not override the configured level")
	}
	if _, err := newLogger(output, config.LoggingConfig{Level: "info"}, "loud"); err == nil {
		t.Error("newLogger accepted an unknown level")
	}
}

func TestRunSingleHostJob(t *testing.T) {
	t.Setenv("MUSTER_CONFIG", "")
	marker := filepath.Join(t.TempDir(), "ran")
	code, err := run([]string{
		"--dist-env", `{"hosts": ["localhost"], "current_host": "localhost", "job_name": "job-solo"}`,
		"--master-addr", "127.0.0.1",
		"--log-level", "error",
		"--", "sh", "-c", "touch " + marker,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != process.ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, process.ExitSuccess)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("workload did not run: %v", err)
	}
}

func TestRunReportsBadDescriptor(t *testing.T) {
	_, err := run([]string{"--dist-env", `{"hosts": ["a"], "current_host": "b"}`, "--", "true"})
	if err == nil {
		t.Fatal("run succeeded with a current host outside the host list")
	}
}
