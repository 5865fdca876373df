package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/ternarybob/excerpo/internal/storage/badger"
)

type managerEnv struct {
	svc   *Service
	store *badger.Manager
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()
	logger := arbor.NewLogger()

	store, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &managerEnv{
		svc:   NewService(store.MetadataStorage(), store.ExtractedStorage(), logger),
		store: store,
	}
}

func mustGroup(t *testing.T, env *managerEnv, name string) *models.MetadataGroup {
	t.Helper()
	group := models.NewMetadataGroup(name, "", "", "tester")
	require.NoError(t, env.svc.CreateGroup(context.Background(), group))
	return group
}

func mustConfig(t *testing.T, env *managerEnv, name string, groupIDs ...string) *models.MetadataConfiguration {
	t.Helper()
	cfg := models.NewMetadataConfiguration(name, "", models.DataTypeText, "Find the "+name+".", nil, "tester")
	require.NoError(t, env.svc.CreateConfiguration(context.Background(), cfg, groupIDs))
	return cfg
}

// orderedConfigIDs returns the group's linked config ids in display order and
// fails the test if the orders are not the dense permutation {0..n-1}.
func orderedConfigIDs(t *testing.T, env *managerEnv, groupID string) []string {
	t.Helper()
	links, err := env.store.MetadataStorage().ListLinksByGroup(context.Background(), groupID)
	require.NoError(t, err)

	ids := make([]string, len(links))
	for i, link := range links {
		require.Equal(t, i, link.DisplayOrder, "display orders must stay dense")
		ids[i] = link.ConfigID
	}
	return ids
}

func TestEnsureDefaultGroupIdempotent(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	first, err := env.svc.EnsureDefaultGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultGroupName, first.Name)
	assert.True(t, first.IsDefault)

	second, err := env.svc.EnsureDefaultGroup(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	groups, err := env.svc.ListGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestCreateGroupNeverDefault(t *testing.T) {
	env := newManagerEnv(t)

	group := models.NewMetadataGroup("Financials", "", "", "tester")
	group.IsDefault = true
	require.NoError(t, env.svc.CreateGroup(context.Background(), group))

	stored, err := env.svc.GetGroup(context.Background(), group.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDefault)
	assert.Equal(t, models.DefaultGroupColor, stored.Color)
}

func TestCreateGroupDuplicateNameCaseInsensitive(t *testing.T) {
	env := newManagerEnv(t)
	mustGroup(t, env, "Financials")

	dup := models.NewMetadataGroup("FINANCIALS", "", "", "tester")
	err := env.svc.CreateGroup(context.Background(), dup)
	assert.ErrorIs(t, err, models.ErrDuplicateName)
}

func TestUpdateGroupDefaultNotRenameable(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	def, err := env.svc.EnsureDefaultGroup(ctx)
	require.NoError(t, err)

	renamed := *def
	renamed.Name = "Everything Else"
	assert.ErrorIs(t, env.svc.UpdateGroup(ctx, &renamed), models.ErrDefaultGroup)

	// Non-name fields of the default group stay editable.
	updated := *def
	updated.Description = "Built-in group"
	require.NoError(t, env.svc.UpdateGroup(ctx, &updated))

	stored, err := env.svc.GetGroup(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultGroupName, stored.Name)
	assert.Equal(t, "Built-in group", stored.Description)
	assert.True(t, stored.IsDefault)
}

func TestUpdateGroupDuplicateName(t *testing.T) {
	env := newManagerEnv(t)
	mustGroup(t, env, "Financials")
	other := mustGroup(t, env, "Governance")

	other.Name = "financials"
	assert.ErrorIs(t, env.svc.UpdateGroup(context.Background(), other), models.ErrDuplicateName)
}

func TestDeleteGroupMovesOrphansToDefault(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	def, err := env.svc.EnsureDefaultGroup(ctx)
	require.NoError(t, err)
	g1 := mustGroup(t, env, "Financials")
	g2 := mustGroup(t, env, "Governance")

	orphan := mustConfig(t, env, "Total Revenue", g1.ID)
	shared := mustConfig(t, env, "Filing Date", g1.ID, g2.ID)

	require.NoError(t, env.svc.DeleteGroup(ctx, g1.ID))

	_, err = env.svc.GetGroup(ctx, g1.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The orphaned configuration moved to the default group.
	assert.Equal(t, []string{orphan.ID}, orderedConfigIDs(t, env, def.ID))

	// The shared configuration kept only its other link.
	links, err := env.store.MetadataStorage().ListLinksByConfig(ctx, shared.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, g2.ID, links[0].GroupID)
}

func TestDeleteGroupDefaultRejected(t *testing.T) {
	env := newManagerEnv(t)

	def, err := env.svc.EnsureDefaultGroup(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, env.svc.DeleteGroup(context.Background(), def.ID), models.ErrDefaultGroup)
}

func TestCreateConfigurationMultiGroup(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	g2 := mustGroup(t, env, "Governance")
	existing := mustConfig(t, env, "Filing Date", g1.ID)

	cfg := mustConfig(t, env, "Total Revenue", g1.ID, g2.ID)

	// Appended at the end of g1, first in the empty g2.
	assert.Equal(t, []string{existing.ID, cfg.ID}, orderedConfigIDs(t, env, g1.ID))
	assert.Equal(t, []string{cfg.ID}, orderedConfigIDs(t, env, g2.ID))

	stored, err := env.svc.GetConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExtractionPromptVersion)
	assert.True(t, stored.IsActive)
}

func TestCreateConfigurationUnknownGroupLeavesNoState(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	cfg := models.NewMetadataConfiguration("Total Revenue", "", models.DataTypeText, "Find it.", nil, "tester")

	err := env.svc.CreateConfiguration(ctx, cfg, []string{g1.ID, "grp_missing"})
	assert.ErrorIs(t, err, models.ErrUnknownGroup)

	_, err = env.svc.GetConfiguration(ctx, cfg.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, orderedConfigIDs(t, env, g1.ID))
}

func TestCreateConfigurationRequiresGroup(t *testing.T) {
	env := newManagerEnv(t)

	cfg := models.NewMetadataConfiguration("Total Revenue", "", models.DataTypeText, "Find it.", nil, "tester")
	err := env.svc.CreateConfiguration(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one group")
}

func TestCreateConfigurationDuplicateName(t *testing.T) {
	env := newManagerEnv(t)

	g1 := mustGroup(t, env, "Financials")
	mustConfig(t, env, "Total Revenue", g1.ID)

	dup := models.NewMetadataConfiguration("total revenue", "", models.DataTypeText, "Find it.", nil, "tester")
	err := env.svc.CreateConfiguration(context.Background(), dup, []string{g1.ID})
	assert.ErrorIs(t, err, models.ErrDuplicateName)
}

func TestUpdateConfigurationBumpsPromptVersion(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	cfg := mustConfig(t, env, "Total Revenue", g1.ID)

	cfg.ExtractionPrompt = "Find the consolidated total revenue."
	require.NoError(t, env.svc.UpdateConfiguration(ctx, cfg))

	stored, err := env.svc.GetConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ExtractionPromptVersion)

	// A non-prompt change keeps the version where it is.
	stored.Description = "Consolidated figure"
	require.NoError(t, env.svc.UpdateConfiguration(ctx, stored))

	again, err := env.svc.GetConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.ExtractionPromptVersion)
	assert.Equal(t, "Consolidated figure", again.Description)
}

func TestReorderShiftsNeighboursOnly(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	g2 := mustGroup(t, env, "Governance")
	a := mustConfig(t, env, "Alpha", g1.ID, g2.ID)
	b := mustConfig(t, env, "Beta", g1.ID)
	c := mustConfig(t, env, "Gamma", g1.ID)

	// Move the head to the tail: the others shift down.
	require.NoError(t, env.svc.ReorderConfiguration(ctx, g1.ID, a.ID, 2))
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, orderedConfigIDs(t, env, g1.ID))

	// The same configuration's position in other groups is untouched.
	assert.Equal(t, []string{a.ID}, orderedConfigIDs(t, env, g2.ID))

	// And back up: the others shift up.
	require.NoError(t, env.svc.ReorderConfiguration(ctx, g1.ID, a.ID, 0))
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, orderedConfigIDs(t, env, g1.ID))
}

func TestReorderUnknownLink(t *testing.T) {
	env := newManagerEnv(t)

	g1 := mustGroup(t, env, "Financials")
	err := env.svc.ReorderConfiguration(context.Background(), g1.ID, "cfg_missing", 0)
	assert.ErrorIs(t, err, models.ErrUnknownLink)
}

func TestReorderOutOfRange(t *testing.T) {
	env := newManagerEnv(t)

	g1 := mustGroup(t, env, "Financials")
	cfg := mustConfig(t, env, "Total Revenue", g1.ID)

	err := env.svc.ReorderConfiguration(context.Background(), g1.ID, cfg.ID, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLinkConfigurationAppendsIdempotently(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	g2 := mustGroup(t, env, "Governance")
	anchor := mustConfig(t, env, "Filing Date", g2.ID)
	cfg := mustConfig(t, env, "Total Revenue", g1.ID)

	require.NoError(t, env.svc.LinkConfiguration(ctx, g2.ID, cfg.ID, "tester"))
	assert.Equal(t, []string{anchor.ID, cfg.ID}, orderedConfigIDs(t, env, g2.ID))

	// Linking again changes nothing.
	require.NoError(t, env.svc.LinkConfiguration(ctx, g2.ID, cfg.ID, "tester"))
	assert.Equal(t, []string{anchor.ID, cfg.ID}, orderedConfigIDs(t, env, g2.ID))
}

func TestUnlinkKeepsConfigInOneGroup(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	g2 := mustGroup(t, env, "Governance")
	a := mustConfig(t, env, "Alpha", g1.ID)
	shared := mustConfig(t, env, "Beta", g1.ID, g2.ID)
	c := mustConfig(t, env, "Gamma", g1.ID)

	// The last link of a configuration cannot be removed.
	assert.ErrorIs(t, env.svc.UnlinkConfiguration(ctx, g1.ID, a.ID), models.ErrLastGroupLink)

	// Removing a middle link compacts the orders behind it.
	require.NoError(t, env.svc.UnlinkConfiguration(ctx, g1.ID, shared.ID))
	assert.Equal(t, []string{a.ID, c.ID}, orderedConfigIDs(t, env, g1.ID))
	assert.Equal(t, []string{shared.ID}, orderedConfigIDs(t, env, g2.ID))
}

func TestUnlinkUnknownLink(t *testing.T) {
	env := newManagerEnv(t)

	g1 := mustGroup(t, env, "Financials")
	cfg := mustConfig(t, env, "Total Revenue", g1.ID)
	g2 := mustGroup(t, env, "Governance")

	err := env.svc.UnlinkConfiguration(context.Background(), g2.ID, cfg.ID)
	assert.ErrorIs(t, err, models.ErrUnknownLink)
}

func TestDeleteConfigurationCascades(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	a := mustConfig(t, env, "Alpha", g1.ID)
	target := mustConfig(t, env, "Total Revenue", g1.ID)
	c := mustConfig(t, env, "Gamma", g1.ID)

	// Extracted values for the target name exist in two collections.
	for i, colID := range []string{"col_1", "col_2"} {
		rec := &models.ExtractedMetadata{
			CollectionID:   colID,
			DocumentID:     "doc_1",
			GroupID:        g1.ID,
			MetadataName:   target.Name,
			ExtractedValue: "$12.5 million",
			ExtractedBy:    "tester",
		}
		require.NoError(t, env.store.ExtractedStorage().SaveExtracted(ctx, rec), "collection %d", i)
	}
	keep := &models.ExtractedMetadata{
		CollectionID:   "col_1",
		DocumentID:     "doc_1",
		GroupID:        g1.ID,
		MetadataName:   a.Name,
		ExtractedValue: "kept",
	}
	require.NoError(t, env.store.ExtractedStorage().SaveExtracted(ctx, keep))

	require.NoError(t, env.svc.DeleteConfiguration(ctx, target.ID))

	_, err := env.svc.GetConfiguration(ctx, target.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Remaining links are compacted around the hole.
	assert.Equal(t, []string{a.ID, c.ID}, orderedConfigIDs(t, env, g1.ID))

	// Values under the deleted name are gone in every collection.
	for _, colID := range []string{"col_1", "col_2"} {
		recs, err := env.store.ExtractedStorage().ListExtracted(ctx, colID, "doc_1")
		require.NoError(t, err)
		for _, rec := range recs {
			assert.NotEqual(t, target.Name, rec.MetadataName)
		}
	}
	recs, err := env.store.ExtractedStorage().ListExtracted(ctx, "col_1", "doc_1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, a.Name, recs[0].MetadataName)
}

func TestCloneGroupCopiesLinksAtSameOrder(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	a := mustConfig(t, env, "Alpha", g1.ID)
	b := mustConfig(t, env, "Beta", g1.ID)

	clone, err := env.svc.CloneGroup(ctx, g1.ID, "Financials 2025", "tester")
	require.NoError(t, err)
	assert.NotEqual(t, g1.ID, clone.ID)
	assert.False(t, clone.IsDefault)

	assert.Equal(t, []string{a.ID, b.ID}, orderedConfigIDs(t, env, clone.ID))
	assert.Equal(t, []string{a.ID, b.ID}, orderedConfigIDs(t, env, g1.ID))

	_, err = env.svc.CloneGroup(ctx, g1.ID, "financials 2025", "tester")
	assert.ErrorIs(t, err, models.ErrDuplicateName)
}

func TestGroupConfigurationsFollowDisplayOrder(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	a := mustConfig(t, env, "Alpha", g1.ID)
	b := mustConfig(t, env, "Beta", g1.ID)
	require.NoError(t, env.svc.ReorderConfiguration(ctx, g1.ID, b.ID, 0))

	configs, err := env.svc.GroupConfigurations(ctx, g1.ID)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, b.ID, configs[0].ID)
	assert.Equal(t, a.ID, configs[1].ID)
}

func TestDocumentMetadataGroupsByGroup(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	g2 := mustGroup(t, env, "Governance")
	for _, rec := range []*models.ExtractedMetadata{
		{CollectionID: "col_1", DocumentID: "doc_1", GroupID: g1.ID, MetadataName: "Total Revenue", ExtractedValue: "$12.5 million"},
		{CollectionID: "col_1", DocumentID: "doc_1", GroupID: g1.ID, MetadataName: "Filing Date", ExtractedValue: "2024-03-31"},
		{CollectionID: "col_1", DocumentID: "doc_1", GroupID: g2.ID, MetadataName: "Auditor", ExtractedValue: "Smith & Co"},
		{CollectionID: "col_1", DocumentID: "doc_2", GroupID: g1.ID, MetadataName: "Total Revenue", ExtractedValue: "other document"},
	} {
		require.NoError(t, env.store.ExtractedStorage().SaveExtracted(ctx, rec))
	}

	groups, err := env.svc.DocumentMetadata(ctx, "col_1", "doc_1")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "Financials", groups[0].GroupName)
	require.Len(t, groups[0].Values, 2)
	assert.Equal(t, "Filing Date", groups[0].Values[0].MetadataName)
	assert.Equal(t, "Total Revenue", groups[0].Values[1].MetadataName)

	assert.Equal(t, "Governance", groups[1].GroupName)
	require.Len(t, groups[1].Values, 1)
	assert.Equal(t, "Smith & Co", groups[1].Values[0].ExtractedValue)
}

func TestListExtractedFilters(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	g1 := mustGroup(t, env, "Financials")
	g2 := mustGroup(t, env, "Governance")
	for _, rec := range []*models.ExtractedMetadata{
		{CollectionID: "col_1", DocumentID: "doc_1", GroupID: g1.ID, MetadataName: "Total Revenue", ExtractedValue: "$12.5 million"},
		{CollectionID: "col_1", DocumentID: "doc_1", GroupID: g2.ID, MetadataName: "Auditor", ExtractedValue: "Smith & Co"},
		{CollectionID: "col_1", DocumentID: "doc_2", GroupID: g1.ID, MetadataName: "Total Revenue", ExtractedValue: "$3.1 million"},
		{CollectionID: "col_2", DocumentID: "doc_1", GroupID: g1.ID, MetadataName: "Total Revenue", ExtractedValue: "other collection"},
	} {
		require.NoError(t, env.store.ExtractedStorage().SaveExtracted(ctx, rec))
	}

	// No filter: every row in the collection, ordered by document.
	all, err := env.svc.ListExtracted(ctx, "col_1", interfaces.ExtractedFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "doc_1", all[0].DocumentID)
	assert.Equal(t, "doc_2", all[2].DocumentID)

	byDoc, err := env.svc.ListExtracted(ctx, "col_1", interfaces.ExtractedFilter{DocumentID: "doc_2"})
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	assert.Equal(t, "$3.1 million", byDoc[0].ExtractedValue)

	byGroup, err := env.svc.ListExtracted(ctx, "col_1", interfaces.ExtractedFilter{GroupID: g2.ID})
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, "Auditor", byGroup[0].MetadataName)

	// Name filter is case-insensitive.
	byName, err := env.svc.ListExtracted(ctx, "col_1", interfaces.ExtractedFilter{MetadataName: "total revenue"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	_, err = env.svc.ListExtracted(ctx, "", interfaces.ExtractedFilter{})
	require.Error(t, err)
}
