package template

import (
	"testing"
)

func TestLoader_LoadFile_single(t *testing.T) {
	l := NewLoader()
	tmpls, err := l.LoadFile("testdata/templates/saas.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(tmpls) != 1 {
		t.Fatalf("templates = %d, want 1", len(tmpls))
	}

	tmpl := tmpls[0]
	if tmpl.ID != "saas" {
		t.Errorf("ID = %q, want saas", tmpl.ID)
	}
	if len(tmpl.Stages) != 4 {
		t.Fatalf("Stages = %d, want 4", len(tmpl.Stages))
	}
	if tmpl.Stages[1].Name != "Demo" || tmpl.Stages[1].Probability != 40 {
		t.Errorf("Stages[1] = %+v", tmpl.Stages[1])
	}
	if tmpl.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if tmpl.SourceFile != "testdata/templates/saas.yaml" {
		t.Errorf("SourceFile = %q", tmpl.SourceFile)
	}
}

func TestLoader_LoadFile_list(t *testing.T) {
	l := NewLoader()
	tmpls, err := l.LoadFile("testdata/templates/nested/partners.yml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(tmpls) != 2 {
		t.Fatalf("templates = %d, want 2", len(tmpls))
	}
	if tmpls[0].ID != "partners" || tmpls[1].ID != "renewals" {
		t.Errorf("IDs = %q, %q", tmpls[0].ID, tmpls[1].ID)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoader_LoadFile_malformed(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadFile("testdata/malformed.yaml")
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	tmpls, err := l.LoadAll([]string{"testdata/templates"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(tmpls) != 3 {
		t.Fatalf("templates = %d, want 3", len(tmpls))
	}

	ids := make(map[string]bool)
	for _, tmpl := range tmpls {
		ids[tmpl.ID] = true
	}
	for _, want := range []string{"saas", "partners", "renewals"} {
		if !ids[want] {
			t.Errorf("missing template %q", want)
		}
	}
}

func TestLoader_LoadAll_missing_dir(t *testing.T) {
	l := NewLoader()
	_, err := l.LoadAll([]string{"testdata/does-not-exist"})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
