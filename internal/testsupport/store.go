package testsupport

import (
	"context"
	"testing"

	"reelforge/internal/config"
	"reelforge/internal/script"
	"reelforge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedProject creates the first current version of a project.
func SeedProject(t testing.TB, st *store.Store, projectID string, scenes script.Scenes) *script.Version {
	t.Helper()

	v, err := st.CreateVersion(context.Background(), script.NewVersion{
		ProjectID:  projectID,
		Scenes:     scenes,
		CreatedBy:  script.CreatedByHuman,
		Provenance: script.Provenance{Source: script.SourceInitial},
		Slot:       script.SlotCurrent,
	})
	if err != nil {
		t.Fatalf("seed project %s: %v", projectID, err)
	}
	return v
}
