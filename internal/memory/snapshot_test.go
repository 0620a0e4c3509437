package memory

import (
	"testing"
)

func TestSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s := NewStore(Options{Backend: fb})
	s.StoreEvent(learningEvent("generate_invoice", "pdf", "email"))
	s.AddRelation("generate_invoice", PredicateSolvedBy, "pdf,email")
	if err := s.Remember("customer:acme", "Acme Corp", 0); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := s.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	reopened, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	s2 := NewStore(Options{Backend: reopened})
	if err := s2.LoadSnapshot(); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if n := s2.EventCount(); n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	rel := s2.Query(TriplePattern{Subject: "generate_invoice"})
	if len(rel) != 1 || rel[0].Object != "pdf,email" {
		t.Fatalf("unexpected relations: %+v", rel)
	}
	if p := s2.Patterns("generate_invoice"); len(p) != 1 || len(p[0].ToolsUsed) != 2 {
		t.Fatalf("unexpected patterns: %+v", p)
	}

	if keys := s2.Keys(""); len(keys) != 1 || keys[0] != "customer:acme" {
		t.Fatalf("snapshot key should be hidden, got %v", keys)
	}
	if res := s2.Search("memory snapshot", 10); len(res) != 0 {
		t.Fatalf("snapshot should not be searchable: %+v", res)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	s := NewStore(Options{})
	if err := s.LoadSnapshot(); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.EventCount() != 0 {
		t.Fatal("store should stay empty")
	}
}
