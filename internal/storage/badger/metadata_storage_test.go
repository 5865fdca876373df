package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/models"
)

func TestGroupsAndDefaultLookup(t *testing.T) {
	db := newTestDB(t)
	storage := NewMetadataStorage(db, arbor.NewLogger())
	ctx := context.Background()

	def := models.NewMetadataGroup("General", "Default group", "", "system")
	def.IsDefault = true
	if err := storage.SaveGroup(ctx, def); err != nil {
		t.Fatalf("Failed to save default group: %v", err)
	}

	financial := models.NewMetadataGroup("Financial", "Financial fields", "#FF0000", "admin")
	if err := storage.SaveGroup(ctx, financial); err != nil {
		t.Fatal(err)
	}

	got, err := storage.GetDefaultGroup(ctx)
	if err != nil {
		t.Fatalf("Failed to find default group: %v", err)
	}
	if got.ID != def.ID {
		t.Errorf("Expected default group %s, got %s", def.ID, got.ID)
	}

	byName, err := storage.GetGroupByName(ctx, "Financial")
	if err != nil {
		t.Fatal(err)
	}
	if byName.Color != "#FF0000" {
		t.Errorf("Expected color to round-trip, got %q", byName.Color)
	}

	groups, err := storage.ListGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Errorf("Expected 2 groups, got %d", len(groups))
	}
}

func TestConfigurationRoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewMetadataStorage(db, arbor.NewLogger())
	ctx := context.Background()

	cfg := models.NewMetadataConfiguration(
		"Filing Date",
		"Date the document was filed",
		models.DataTypeDate,
		"Extract the filing date of this document.",
		models.ValidationRules{"regex": `^\d{4}-\d{2}-\d{2}$`},
		"admin",
	)
	if err := storage.SaveConfiguration(ctx, cfg); err != nil {
		t.Fatalf("Failed to save configuration: %v", err)
	}

	got, err := storage.GetConfigurationByName(ctx, "Filing Date")
	if err != nil {
		t.Fatal(err)
	}
	if got.ExtractionPromptVersion != 1 {
		t.Errorf("Expected new configuration at prompt version 1, got %d", got.ExtractionPromptVersion)
	}
	if regex, ok := got.ValidationRules.Regex(); !ok || regex == "" {
		t.Error("Expected validation regex to round-trip")
	}

	if _, err := storage.GetConfiguration(ctx, "cfg_missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLinkOrderingAndOverwrite(t *testing.T) {
	db := newTestDB(t)
	storage := NewMetadataStorage(db, arbor.NewLogger())
	ctx := context.Background()

	// Links come back ordered by display position, not insertion order.
	if err := storage.SaveLink(ctx, models.NewGroupConfigLink("grp_1", "cfg_b", 1, "admin")); err != nil {
		t.Fatal(err)
	}
	if err := storage.SaveLink(ctx, models.NewGroupConfigLink("grp_1", "cfg_c", 2, "admin")); err != nil {
		t.Fatal(err)
	}
	if err := storage.SaveLink(ctx, models.NewGroupConfigLink("grp_1", "cfg_a", 0, "admin")); err != nil {
		t.Fatal(err)
	}

	links, err := storage.ListLinksByGroup(ctx, "grp_1")
	if err != nil {
		t.Fatalf("Failed to list links: %v", err)
	}
	if len(links) != 3 {
		t.Fatalf("Expected 3 links, got %d", len(links))
	}
	order := []string{"cfg_a", "cfg_b", "cfg_c"}
	for i, link := range links {
		if link.ConfigID != order[i] {
			t.Errorf("Position %d: expected %s, got %s", i, order[i], link.ConfigID)
		}
	}

	// Re-saving a link moves it rather than duplicating it.
	if err := storage.SaveLink(ctx, models.NewGroupConfigLink("grp_1", "cfg_a", 5, "admin")); err != nil {
		t.Fatal(err)
	}
	links, err = storage.ListLinksByGroup(ctx, "grp_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 3 {
		t.Fatalf("Expected 3 links after re-save, got %d", len(links))
	}
	if links[2].ConfigID != "cfg_a" || links[2].DisplayOrder != 5 {
		t.Errorf("Expected cfg_a moved to the end, got %s at order %d", links[2].ConfigID, links[2].DisplayOrder)
	}

	// A configuration can sit in several groups at once.
	if err := storage.SaveLink(ctx, models.NewGroupConfigLink("grp_2", "cfg_a", 0, "admin")); err != nil {
		t.Fatal(err)
	}
	byConfig, err := storage.ListLinksByConfig(ctx, "cfg_a")
	if err != nil {
		t.Fatal(err)
	}
	if len(byConfig) != 2 {
		t.Errorf("Expected cfg_a in 2 groups, got %d", len(byConfig))
	}

	if err := storage.DeleteLinksByGroup(ctx, "grp_1"); err != nil {
		t.Fatal(err)
	}
	links, err = storage.ListLinksByGroup(ctx, "grp_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Errorf("Expected no links after group delete, got %d", len(links))
	}
}
