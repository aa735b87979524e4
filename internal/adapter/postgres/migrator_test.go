package postgres

import "testing"

func TestMigratorListsEmbeddedSchema(t *testing.T) {
	// The provider reads the embedded files; no connection is made until a
	// migration runs.
	p, err := newMigrator("postgres://webmvc@127.0.0.1:1/webmvc?sslmode=disable")
	if err != nil {
		t.Fatalf("newMigrator: %v", err)
	}
	defer func() { _ = p.Close() }()

	sources := p.ListSources()
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}
	if sources[0].Version != 1 {
		t.Errorf("version = %d, want 1", sources[0].Version)
	}
}
