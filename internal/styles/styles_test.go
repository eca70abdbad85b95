package styles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "styles.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write styles file: %v", err)
	}
	return p
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	got, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("expected default styles")
	}
	if got[0].ID != "casual" {
		t.Fatalf("first default style = %q, want casual", got[0].ID)
	}
}

func TestLoadParsesFile(t *testing.T) {
	t.Parallel()

	p := writeFile(t, `
styles:
  - id: pirate
    name: Pirate
    tone: swashbuckling
    instructions: Reply like a pirate.
    max_candidates: 2
`)
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pirate" || got[0].MaxCandidates != 2 {
		t.Fatalf("unexpected styles: %+v", got)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	p := writeFile(t, `
styles:
  - id: x
    name: X
    surprise: true
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	p := writeFile(t, `
styles:
  - id: a
    name: A
  - id: a
    name: A2
`)
	_, err := Load(p)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate id error", err)
	}
}

func TestLoadRejectsCandidateRange(t *testing.T) {
	t.Parallel()

	p := writeFile(t, `
styles:
  - id: a
    name: A
    max_candidates: 9
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for max_candidates out of range")
	}
}

func TestFindFallsBackToFirst(t *testing.T) {
	t.Parallel()

	all := Default()
	if got := Find(all, "professional"); got.ID != "professional" {
		t.Fatalf("Find(professional) = %q", got.ID)
	}
	if got := Find(all, "unknown"); got.ID != all[0].ID {
		t.Fatalf("Find(unknown) = %q, want first style", got.ID)
	}
	if got := Find(all, ""); got.ID != all[0].ID {
		t.Fatalf("Find(empty) = %q, want first style", got.ID)
	}
	if got := Find(nil, "casual"); got.ID != Default()[0].ID {
		t.Fatalf("Find(nil slice) = %q, want built-in default", got.ID)
	}
}
