package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/internal/version"
	"github.com/hearth-home/hearth/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "hearth_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestMigrateFreshDatabase(t *testing.T) {
	ctx := context.Background()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "hearth_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	defer st.Close()

	initialized, err := driver.IsInitialized(ctx)
	require.NoError(t, err)
	assert.False(t, initialized)

	require.NoError(t, st.Migrate(ctx))

	initialized, err = driver.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)

	stored, err := driver.GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, version.GetCurrentVersion(p.Mode), stored)

	// Running again against an up-to-date database is a no-op.
	require.NoError(t, st.Migrate(ctx))
}

func TestUpsertFamilyIsCreateOrGet(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	created, err := st.UpsertFamily(ctx, &store.UpsertFamily{ID: "fam-a", Name: "The Smiths"})
	require.NoError(t, err)
	assert.Equal(t, "fam-a", created.ID)
	assert.Equal(t, "The Smiths", created.Name)

	// A different casing binds to the existing record; the new id is dropped.
	again, err := st.UpsertFamily(ctx, &store.UpsertFamily{ID: "fam-b", Name: "the smiths"})
	require.NoError(t, err)
	assert.Equal(t, "fam-a", again.ID)
	assert.Equal(t, "The Smiths", again.Name)

	name := "THE SMITHS"
	found, err := st.GetFamily(ctx, &store.FindFamily{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "fam-a", found.ID)

	missing := "the parkers"
	none, err := st.GetFamily(ctx, &store.FindFamily{Name: &missing})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestUpsertMemoryEntryReplacesValue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first, err := st.UpsertMemoryEntry(ctx, &store.UpsertMemoryEntry{
		FamilyID:  "fam-1",
		UserID:    "user-1",
		Namespace: "onboarding",
		Key:       "family_name",
		Value:     `"The Smiths"`,
	})
	require.NoError(t, err)

	second, err := st.UpsertMemoryEntry(ctx, &store.UpsertMemoryEntry{
		FamilyID:  "fam-1",
		UserID:    "user-1",
		Namespace: "onboarding",
		Key:       "family_name",
		Value:     `"The Smith-Joneses"`,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, `"The Smith-Joneses"`, second.Value)

	_, err = st.UpsertMemoryEntry(ctx, &store.UpsertMemoryEntry{
		FamilyID:  "fam-1",
		UserID:    "user-1",
		Namespace: "onboarding",
		Key:       "room_candidates",
		Value:     `["Kitchen"]`,
	})
	require.NoError(t, err)

	familyID, userID := "fam-1", "user-1"
	entries, err := st.ListMemoryEntries(ctx, &store.FindMemoryEntry{FamilyID: &familyID, UserID: &userID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "family_name", entries[0].Key)
	assert.Equal(t, "room_candidates", entries[1].Key)
}

func TestDeleteMemoryEntries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	for _, key := range []string{"family_name", "member_candidates", "room_candidates"} {
		_, err := st.UpsertMemoryEntry(ctx, &store.UpsertMemoryEntry{
			FamilyID:  "fam-1",
			UserID:    "user-1",
			Namespace: "onboarding",
			Key:       key,
			Value:     "{}",
		})
		require.NoError(t, err)
	}
	_, err := st.UpsertMemoryEntry(ctx, &store.UpsertMemoryEntry{
		FamilyID:  "fam-2",
		UserID:    "user-9",
		Namespace: "onboarding",
		Key:       "family_name",
		Value:     `"The Parkers"`,
	})
	require.NoError(t, err)

	// An unfiltered delete is rejected outright.
	require.Error(t, st.DeleteMemoryEntries(ctx, &store.DeleteMemoryEntry{}))

	familyID, userID := "fam-1", "user-1"
	require.NoError(t, st.DeleteMemoryEntries(ctx, &store.DeleteMemoryEntry{FamilyID: &familyID, UserID: &userID}))

	gone, err := st.ListMemoryEntries(ctx, &store.FindMemoryEntry{FamilyID: &familyID})
	require.NoError(t, err)
	assert.Empty(t, gone)

	otherFamily := "fam-2"
	kept, err := st.ListMemoryEntries(ctx, &store.FindMemoryEntry{FamilyID: &otherFamily})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestCommitRecordsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, err := st.CreateCommitRecord(ctx, &store.CommitRecord{
		FamilyID:   "fam-1",
		UserID:     "user-1",
		FamilyName: "The Smiths",
		Members:    `[{"name":"Sarah","role":"Wife"}]`,
		Rooms:      `["Kitchen"]`,
	})
	require.NoError(t, err)

	latest, err := st.CreateCommitRecord(ctx, &store.CommitRecord{
		FamilyID:   "fam-1",
		UserID:     "user-1",
		FamilyName: "The Smiths",
		Members:    `[{"name":"Sarah","role":"Wife"},{"name":"Jake","role":"Son"}]`,
		Rooms:      `["Kitchen","Office"]`,
	})
	require.NoError(t, err)

	familyID := "fam-1"
	limit := 1
	records, err := st.ListCommitRecords(ctx, &store.FindCommitRecord{FamilyID: &familyID, Limit: &limit})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, latest.ID, records[0].ID)
	assert.Equal(t, `["Kitchen","Office"]`, records[0].Rooms)
}
