package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupDefinition(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "publish"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "publish", "tool"), []byte("#!/bin/sh\necho tool\n"), 0755); err != nil {
		t.Fatal(err)
	}
	path = filepath.Join(dir, "debpack.yaml")
	def := `
package: tool
version: "{{.version}}"
architecture: all
maintainer: Jane Doe <jane@example.com>
description: A tool
publish_dir: publish
app_host: tool
defines:
  version: 0.1.0
`
	if err := os.WriteFile(path, []byte(def), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func TestBuildAndInspect(t *testing.T) {
	dir, path := setupDefinition(t)
	if _, err := run(t, "build", "-f", path, "-o", dir, "--compression", "gzip", "--no-progress", "--define", "version=0.2.0"); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	deb := filepath.Join(dir, "tool_0.2.0_all.deb")
	if _, err := os.Stat(deb); err != nil {
		t.Fatalf("expected %s: %v", deb, err)
	}

	out, err := run(t, "info", deb)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	if !strings.Contains(out, "Package: tool\n") || !strings.Contains(out, "data.tar.gz") {
		t.Errorf("unexpected info output:\n%s", out)
	}

	out, err = run(t, "info", "--stanza", deb)
	if err != nil {
		t.Fatalf("info --stanza failed: %v", err)
	}
	if !strings.Contains(out, "Filename: tool_0.2.0_all.deb\n") || !strings.Contains(out, "SHA256: ") {
		t.Errorf("unexpected stanza:\n%s", out)
	}

	out, err = run(t, "contents", deb)
	if err != nil {
		t.Fatalf("contents failed: %v", err)
	}
	for _, want := range []string{"./usr/share/tool/tool", "./usr/bin/tool -> /usr/share/tool/tool", "drwxr-xr-x root/root"} {
		if !strings.Contains(out, want) {
			t.Errorf("contents misses %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "verify", deb); err != nil {
		t.Errorf("verify failed: %v", err)
	}

	target := filepath.Join(dir, "out")
	if _, err := run(t, "extract", deb, target); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if b, err := os.ReadFile(filepath.Join(target, "usr", "share", "tool", "tool")); err != nil || !strings.Contains(string(b), "echo tool") {
		t.Errorf("unexpected extracted file %q: %v", b, err)
	}
}

func TestSignAndVerify(t *testing.T) {
	entity, err := openpgp.NewEntity("Test", "test", "test@example.com", nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	var key bytes.Buffer
	w, err := armor.Encode(&key, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatal(err)
	}
	w.Close()
	t.Setenv("GPG_PRIVATE_KEY", key.String())

	dir, path := setupDefinition(t)
	deb := filepath.Join(dir, "signed.deb")
	if _, err := run(t, "build", "-f", path, "-o", deb, "--compression", "gzip", "--no-progress", "--sign"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	pub, err := run(t, "key")
	if err != nil {
		t.Fatalf("key failed: %v", err)
	}
	keyring := filepath.Join(dir, "key.asc")
	if err := os.WriteFile(keyring, []byte(pub), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "verify", "--keyring", keyring, deb); err != nil {
		t.Errorf("verify failed: %v", err)
	}
}

func TestBuildMissingKey(t *testing.T) {
	t.Setenv("GPG_PRIVATE_KEY", "")
	_, path := setupDefinition(t)
	if _, err := run(t, "build", "-f", path, "--sign", "--no-progress"); err == nil || !strings.Contains(err.Error(), "GPG_PRIVATE_KEY") {
		t.Errorf("expected a GPG_PRIVATE_KEY error, got %v", err)
	}
}

func TestLogFormat(t *testing.T) {
	if _, err := run(t, "--log-format", "xml", "version"); err == nil {
		t.Errorf("expected an error for an unknown log format")
	}
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "debpack ") {
		t.Errorf("unexpected version output %q: %v", out, err)
	}
}
