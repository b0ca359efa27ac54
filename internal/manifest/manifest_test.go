package manifest

import "testing"

func validManifest() *Manifest {
	return &Manifest{
		ID:      "com.example.clock",
		Name:    "Clock",
		Version: "1.0.0",
		Frontend: Frontend{
			Entry: "index.html",
		},
	}
}

func TestValidateAcceptsMinimalManifest(t *testing.T) {
	m := validManifest()
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadID(t *testing.T) {
	cases := []string{"", "Com.Example", "com_example", "com example"}
	for _, id := range cases {
		m := validManifest()
		m.ID = id
		if err := m.Validate(); err == nil {
			t.Errorf("id %q: expected validation error, got nil", id)
		}
	}
}

func TestValidateRequiresName(t *testing.T) {
	m := validManifest()
	m.Name = ""
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestValidateRequiresVersion(t *testing.T) {
	m := validManifest()
	m.Version = ""
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestValidateRequiresFrontendEntry(t *testing.T) {
	m := validManifest()
	m.Frontend.Entry = ""
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for missing frontend.entry")
	}
}

func TestValidateAcceptsRemoteFrontendEntry(t *testing.T) {
	m := validManifest()
	m.Frontend.Entry = "https://example.com/app"
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMalformedRemoteEntry(t *testing.T) {
	m := validManifest()
	m.Frontend.Entry = "ftp://example.com/app"
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for non-http(s) remote entry")
	}
}

func TestValidateRequiresBackendEntryWhenBackendPresent(t *testing.T) {
	m := validManifest()
	m.Backend = &Backend{}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for backend block with empty entry")
	}
}

func TestValidateAcceptsBackendWithEntry(t *testing.T) {
	m := validManifest()
	m.Backend = &Backend{Entry: "backend.js"}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadWindowMode(t *testing.T) {
	m := validManifest()
	m.Window = &Window{Mode: "weird"}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for invalid window.mode")
	}
}

func TestValidateAcceptsKnownWindowModes(t *testing.T) {
	for _, mode := range []WindowMode{ModeFloating, ModeTiled, ModeBoth, ""} {
		m := validManifest()
		m.Window = &Window{Mode: mode}
		if err := m.Validate(); err != nil {
			t.Errorf("mode %q: Validate: %v", mode, err)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	data := []byte(`{
		"id": "com.example.notes",
		"name": "Notes",
		"version": "0.1.0",
		"frontend": {"entry": "index.html"},
		"permissions": ["fs/read"],
		"autostart": true
	}`)
	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.ID != "com.example.notes" || !m.Autostart || len(m.Permissions) != 1 {
		t.Errorf("unexpected parse result: %+v", m)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
