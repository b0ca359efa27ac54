package updater

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckLatestReleaseDisabledByDefault(t *testing.T) {
	u := New("")
	status, err := u.CheckLatestRelease("1.2.0")
	if err != nil {
		t.Fatalf("CheckLatestRelease: %v", err)
	}
	if status.Available {
		t.Fatalf("expected update check to be disabled, got Available=true")
	}
	if status.Release != nil {
		t.Fatalf("expected no release info when disabled, got %+v", status.Release)
	}
}

func TestIsNewerVersion(t *testing.T) {
	cases := []struct {
		latest, current string
		want             bool
	}{
		{"1.2.0", "1.1.0", true},
		{"1.1.0", "1.2.0", false},
		{"1.2.0", "1.2.0", false},
		{"2.0.0", "1.9.9", true},
		{"1.2.1", "1.2.0", true},
	}
	for _, c := range cases {
		if got := isNewerVersion(c.latest, c.current); got != c.want {
			t.Errorf("isNewerVersion(%q, %q) = %v, want %v", c.latest, c.current, got, c.want)
		}
	}
}

func TestApplyUpdateDirect(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "edenctl")
	if err := os.WriteFile(target, []byte("old binary"), 0755); err != nil {
		t.Fatalf("writing old binary: %v", err)
	}

	newBinary := filepath.Join(dir, "edenctl.new")
	if err := os.WriteFile(newBinary, []byte("new binary"), 0755); err != nil {
		t.Fatalf("writing new binary: %v", err)
	}

	if err := ApplyUpdateDirect(newBinary, target); err != nil {
		t.Fatalf("ApplyUpdateDirect: %v", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading target: %v", err)
	}
	if string(data) != "new binary" {
		t.Fatalf("target content = %q, want %q", data, "new binary")
	}

	backup, err := os.ReadFile(target + ".bak")
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	if string(backup) != "old binary" {
		t.Fatalf("backup content = %q, want %q", backup, "old binary")
	}

	if _, err := os.Stat(newBinary); !os.IsNotExist(err) {
		t.Fatalf("expected new binary to be removed after apply, stat err = %v", err)
	}
}
