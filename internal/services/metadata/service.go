// -----------------------------------------------------------------------
// Metadata Manager - Groups, configurations, and the links between them
// Every configuration stays in at least one group; orders stay dense
// -----------------------------------------------------------------------

package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// DefaultGroupName is the built-in group created at bootstrap. It collects
// orphaned configurations and cannot be renamed or deleted.
const DefaultGroupName = "General"

// Service enforces the group and configuration invariants on top of plain
// storage: case-insensitive unique names, the single protected default
// group, dense display orders, and the no-orphan rule for configurations.
type Service struct {
	store     interfaces.MetadataStorage
	extracted interfaces.ExtractedStorage
	logger    arbor.ILogger
}

var _ interfaces.MetadataService = (*Service)(nil)

func NewService(
	store interfaces.MetadataStorage,
	extracted interfaces.ExtractedStorage,
	logger arbor.ILogger,
) *Service {
	return &Service{
		store:     store,
		extracted: extracted,
		logger:    logger,
	}
}

// EnsureDefaultGroup creates the default group on first boot and returns it
// on every later call.
func (s *Service) EnsureDefaultGroup(ctx context.Context) (*models.MetadataGroup, error) {
	group, err := s.store.GetDefaultGroup(ctx)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	group = models.NewMetadataGroup(DefaultGroupName, "Catch-all group for metadata configurations", "", "system")
	group.IsDefault = true
	if err := s.store.SaveGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create default group: %w", err)
	}

	s.logger.Info().
		Str("group_id", group.ID).
		Str("name", group.Name).
		Msg("Created default metadata group")
	return group, nil
}

func (s *Service) CreateGroup(ctx context.Context, group *models.MetadataGroup) error {
	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return fmt.Errorf("group name is required")
	}

	taken, err := s.groupNameTaken(ctx, group.Name, "")
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("group %q: %w", group.Name, models.ErrDuplicateName)
	}

	// Only EnsureDefaultGroup may mint the default group.
	group.IsDefault = false
	if group.Color == "" {
		group.Color = models.DefaultGroupColor
	}

	if err := s.store.SaveGroup(ctx, group); err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}

	s.logger.Info().
		Str("group_id", group.ID).
		Str("name", group.Name).
		Msg("Metadata group created")
	return nil
}

func (s *Service) GetGroup(ctx context.Context, id string) (*models.MetadataGroup, error) {
	return s.store.GetGroup(ctx, id)
}

func (s *Service) ListGroups(ctx context.Context) ([]*models.MetadataGroup, error) {
	return s.store.ListGroups(ctx)
}

func (s *Service) UpdateGroup(ctx context.Context, group *models.MetadataGroup) error {
	stored, err := s.store.GetGroup(ctx, group.ID)
	if err != nil {
		return err
	}

	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return fmt.Errorf("group name is required")
	}
	if stored.IsDefault && group.Name != stored.Name {
		return fmt.Errorf("group %s: %w", group.ID, models.ErrDefaultGroup)
	}
	if !strings.EqualFold(group.Name, stored.Name) {
		taken, err := s.groupNameTaken(ctx, group.Name, group.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("group %q: %w", group.Name, models.ErrDuplicateName)
		}
	}

	// The default flag and provenance never change through an update.
	group.IsDefault = stored.IsDefault
	group.CreatedAt = stored.CreatedAt
	group.CreatedBy = stored.CreatedBy
	if group.Color == "" {
		group.Color = stored.Color
	}

	if err := s.store.SaveGroup(ctx, group); err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

// DeleteGroup removes a non-default group. Configurations whose only group
// link was this group move to the default group first so none is orphaned.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return err
	}
	if group.IsDefault {
		return fmt.Errorf("group %s: %w", id, models.ErrDefaultGroup)
	}

	links, err := s.store.ListLinksByGroup(ctx, id)
	if err != nil {
		return err
	}

	moved := 0
	var def *models.MetadataGroup
	nextOrder := 0
	for _, link := range links {
		all, err := s.store.ListLinksByConfig(ctx, link.ConfigID)
		if err != nil {
			return err
		}
		orphaned := true
		for _, other := range all {
			if other.GroupID != id {
				orphaned = false
				break
			}
		}
		if !orphaned {
			continue
		}

		if def == nil {
			def, err = s.store.GetDefaultGroup(ctx)
			if err != nil {
				return fmt.Errorf("failed to load default group: %w", err)
			}
			defLinks, err := s.store.ListLinksByGroup(ctx, def.ID)
			if err != nil {
				return err
			}
			nextOrder = len(defLinks)
		}
		if err := s.store.SaveLink(ctx, models.NewGroupConfigLink(def.ID, link.ConfigID, nextOrder, link.AddedBy)); err != nil {
			return fmt.Errorf("failed to move configuration %s to default group: %w", link.ConfigID, err)
		}
		nextOrder++
		moved++
	}

	if err := s.store.DeleteLinksByGroup(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		return err
	}

	s.logger.Info().
		Str("group_id", id).
		Str("name", group.Name).
		Int("configs_moved_to_default", moved).
		Msg("Metadata group deleted")
	return nil
}

func (s *Service) CloneGroup(ctx context.Context, groupID, newName, createdBy string) (*models.MetadataGroup, error) {
	source, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, fmt.Errorf("group name is required")
	}
	taken, err := s.groupNameTaken(ctx, newName, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("group %q: %w", newName, models.ErrDuplicateName)
	}

	clone := models.NewMetadataGroup(newName, source.Description, source.Color, createdBy)
	if err := s.store.SaveGroup(ctx, clone); err != nil {
		return nil, fmt.Errorf("failed to save group: %w", err)
	}

	links, err := s.store.ListLinksByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if err := s.store.SaveLink(ctx, models.NewGroupConfigLink(clone.ID, link.ConfigID, link.DisplayOrder, createdBy)); err != nil {
			return nil, fmt.Errorf("failed to copy link for configuration %s: %w", link.ConfigID, err)
		}
	}

	s.logger.Info().
		Str("source_group_id", groupID).
		Str("group_id", clone.ID).
		Str("name", clone.Name).
		Int("links", len(links)).
		Msg("Metadata group cloned")
	return clone, nil
}

// CreateConfiguration validates every target group before writing anything,
// so a bad group id leaves no partial state behind.
func (s *Service) CreateConfiguration(ctx context.Context, cfg *models.MetadataConfiguration, groupIDs []string) error {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return fmt.Errorf("configuration name is required")
	}
	if !cfg.DataType.Valid() {
		return fmt.Errorf("unknown data type %q", cfg.DataType)
	}

	ids := dedupe(groupIDs)
	if len(ids) == 0 {
		return fmt.Errorf("configuration %q: at least one group is required", cfg.Name)
	}
	for _, gid := range ids {
		if _, err := s.store.GetGroup(ctx, gid); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("group %s: %w", gid, models.ErrUnknownGroup)
			}
			return err
		}
	}

	taken, err := s.configNameTaken(ctx, cfg.Name, "")
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("configuration %q: %w", cfg.Name, models.ErrDuplicateName)
	}

	if cfg.ExtractionPromptVersion == 0 {
		cfg.ExtractionPromptVersion = 1
	}
	if err := s.store.SaveConfiguration(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	for _, gid := range ids {
		links, err := s.store.ListLinksByGroup(ctx, gid)
		if err != nil {
			return err
		}
		if err := s.store.SaveLink(ctx, models.NewGroupConfigLink(gid, cfg.ID, len(links), cfg.CreatedBy)); err != nil {
			return fmt.Errorf("failed to link configuration to group %s: %w", gid, err)
		}
	}

	s.logger.Info().
		Str("config_id", cfg.ID).
		Str("name", cfg.Name).
		Int("groups", len(ids)).
		Msg("Metadata configuration created")
	return nil
}

func (s *Service) GetConfiguration(ctx context.Context, id string) (*models.MetadataConfiguration, error) {
	return s.store.GetConfiguration(ctx, id)
}

func (s *Service) ListConfigurations(ctx context.Context) ([]*models.MetadataConfiguration, error) {
	return s.store.ListConfigurations(ctx)
}

// UpdateConfiguration saves the new state; a changed extraction prompt bumps
// the prompt version in the same write.
func (s *Service) UpdateConfiguration(ctx context.Context, cfg *models.MetadataConfiguration) error {
	stored, err := s.store.GetConfiguration(ctx, cfg.ID)
	if err != nil {
		return err
	}

	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return fmt.Errorf("configuration name is required")
	}
	if !cfg.DataType.Valid() {
		return fmt.Errorf("unknown data type %q", cfg.DataType)
	}
	if !strings.EqualFold(cfg.Name, stored.Name) {
		taken, err := s.configNameTaken(ctx, cfg.Name, cfg.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("configuration %q: %w", cfg.Name, models.ErrDuplicateName)
		}
	}

	bumped := cfg.ExtractionPrompt != stored.ExtractionPrompt
	cfg.ExtractionPromptVersion = stored.ExtractionPromptVersion
	if bumped {
		cfg.ExtractionPromptVersion = stored.ExtractionPromptVersion + 1
	}
	cfg.CreatedAt = stored.CreatedAt
	cfg.CreatedBy = stored.CreatedBy

	if err := s.store.SaveConfiguration(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	s.logger.Info().
		Str("config_id", cfg.ID).
		Str("name", cfg.Name).
		Bool("prompt_version_bumped", bumped).
		Int("prompt_version", cfg.ExtractionPromptVersion).
		Msg("Metadata configuration updated")
	return nil
}

// DeleteConfiguration removes the configuration, its group links, and every
// extracted value recorded under its name across all collections.
func (s *Service) DeleteConfiguration(ctx context.Context, id string) error {
	cfg, err := s.store.GetConfiguration(ctx, id)
	if err != nil {
		return err
	}

	// Config row first: once it is gone the no-orphan rule no longer
	// applies, and readers already skip links whose config is missing.
	if err := s.store.DeleteConfiguration(ctx, id); err != nil {
		return err
	}

	links, err := s.store.ListLinksByConfig(ctx, id)
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := s.store.DeleteLink(ctx, link.GroupID, id); err != nil {
			return err
		}
		if err := s.compactOrders(ctx, link.GroupID); err != nil {
			return err
		}
	}

	if err := s.extracted.DeleteExtractedByName(ctx, cfg.Name); err != nil {
		return err
	}

	s.logger.Info().
		Str("config_id", id).
		Str("name", cfg.Name).
		Int("links_removed", len(links)).
		Msg("Metadata configuration deleted")
	return nil
}

// LinkConfiguration appends the configuration at the end of the group's
// display order. Linking an already linked pair is a no-op.
func (s *Service) LinkConfiguration(ctx context.Context, groupID, configID, addedBy string) error {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.store.GetConfiguration(ctx, configID); err != nil {
		return err
	}

	if _, err := s.store.GetLink(ctx, groupID, configID); err == nil {
		s.logger.Debug().
			Str("group_id", groupID).
			Str("config_id", configID).
			Msg("Configuration already linked to group")
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	links, err := s.store.ListLinksByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	return s.store.SaveLink(ctx, models.NewGroupConfigLink(groupID, configID, len(links), addedBy))
}

// UnlinkConfiguration removes one group link. The configuration's last link
// cannot be removed; delete the configuration instead.
func (s *Service) UnlinkConfiguration(ctx context.Context, groupID, configID string) error {
	if _, err := s.store.GetLink(ctx, groupID, configID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("group %s configuration %s: %w", groupID, configID, models.ErrUnknownLink)
		}
		return err
	}

	all, err := s.store.ListLinksByConfig(ctx, configID)
	if err != nil {
		return err
	}
	if len(all) <= 1 {
		return fmt.Errorf("configuration %s: %w", configID, models.ErrLastGroupLink)
	}

	if err := s.store.DeleteLink(ctx, groupID, configID); err != nil {
		return err
	}
	return s.compactOrders(ctx, groupID)
}

// ReorderConfiguration moves the configuration to newOrder within the group.
// Links between the old and new positions shift by one in the opposite
// direction so the orders stay a dense permutation.
func (s *Service) ReorderConfiguration(ctx context.Context, groupID, configID string, newOrder int) error {
	links, err := s.store.ListLinksByGroup(ctx, groupID)
	if err != nil {
		return err
	}

	var target *models.GroupConfigLink
	for _, link := range links {
		if link.ConfigID == configID {
			target = link
			break
		}
	}
	if target == nil {
		return fmt.Errorf("group %s configuration %s: %w", groupID, configID, models.ErrUnknownLink)
	}
	if newOrder < 0 || newOrder >= len(links) {
		return fmt.Errorf("new order %d out of range for group with %d configurations", newOrder, len(links))
	}

	oldOrder := target.DisplayOrder
	if oldOrder == newOrder {
		return nil
	}

	for _, link := range links {
		updated := link.DisplayOrder
		switch {
		case link == target:
			updated = newOrder
		case oldOrder < newOrder && link.DisplayOrder > oldOrder && link.DisplayOrder <= newOrder:
			updated = link.DisplayOrder - 1
		case oldOrder > newOrder && link.DisplayOrder >= newOrder && link.DisplayOrder < oldOrder:
			updated = link.DisplayOrder + 1
		}
		if updated == link.DisplayOrder {
			continue
		}
		link.DisplayOrder = updated
		if err := s.store.SaveLink(ctx, link); err != nil {
			return fmt.Errorf("failed to save reordered link: %w", err)
		}
	}

	s.logger.Debug().
		Str("group_id", groupID).
		Str("config_id", configID).
		Int("from", oldOrder).
		Int("to", newOrder).
		Msg("Configuration reordered")
	return nil
}

func (s *Service) GroupConfigurations(ctx context.Context, groupID string) ([]*models.MetadataConfiguration, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	links, err := s.store.ListLinksByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	configs := make([]*models.MetadataConfiguration, 0, len(links))
	for _, link := range links {
		cfg, err := s.store.GetConfiguration(ctx, link.ConfigID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				s.logger.Warn().
					Str("group_id", groupID).
					Str("config_id", link.ConfigID).
					Msg("Skipping link to missing configuration")
				continue
			}
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// ListExtracted returns a collection's extracted values as flat rows in
// (document, group, name) order, narrowed by any filter fields that are set.
func (s *Service) ListExtracted(ctx context.Context, collectionID string, filter interfaces.ExtractedFilter) ([]*models.ExtractedMetadata, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("collection id is required")
	}

	recs, err := s.extracted.ListExtracted(ctx, collectionID, filter.DocumentID)
	if err != nil {
		return nil, err
	}

	out := recs[:0]
	for _, rec := range recs {
		if filter.GroupID != "" && rec.GroupID != filter.GroupID {
			continue
		}
		if filter.MetadataName != "" && !strings.EqualFold(rec.MetadataName, filter.MetadataName) {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].MetadataName < out[j].MetadataName
	})
	return out, nil
}

func (s *Service) DocumentMetadata(ctx context.Context, collectionID, documentID string) ([]*interfaces.DocumentMetadataGroup, error) {
	recs, err := s.extracted.ListExtracted(ctx, collectionID, documentID)
	if err != nil {
		return nil, err
	}

	byGroup := make(map[string][]*models.ExtractedMetadata)
	for _, rec := range recs {
		byGroup[rec.GroupID] = append(byGroup[rec.GroupID], rec)
	}

	groups := make([]*interfaces.DocumentMetadataGroup, 0, len(byGroup))
	for groupID, values := range byGroup {
		name := groupID
		if group, err := s.store.GetGroup(ctx, groupID); err == nil {
			name = group.Name
		}
		sort.Slice(values, func(i, j int) bool {
			return values[i].MetadataName < values[j].MetadataName
		})
		groups = append(groups, &interfaces.DocumentMetadataGroup{
			GroupID:   groupID,
			GroupName: name,
			Values:    values,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].GroupName < groups[j].GroupName
	})
	return groups, nil
}

func (s *Service) DeleteDocumentMetadata(ctx context.Context, collectionID, documentID string) error {
	return s.extracted.DeleteExtracted(ctx, collectionID, documentID)
}

// compactOrders renumbers a group's links to {0..n-1} after a removal,
// preserving their relative order.
func (s *Service) compactOrders(ctx context.Context, groupID string) error {
	links, err := s.store.ListLinksByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	for i, link := range links {
		if link.DisplayOrder == i {
			continue
		}
		link.DisplayOrder = i
		if err := s.store.SaveLink(ctx, link); err != nil {
			return fmt.Errorf("failed to compact link order: %w", err)
		}
	}
	return nil
}

func (s *Service) groupNameTaken(ctx context.Context, name, excludeID string) (bool, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g.ID != excludeID && strings.EqualFold(g.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) configNameTaken(ctx context.Context, name, excludeID string) (bool, error) {
	cfgs, err := s.store.ListConfigurations(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cfgs {
		if c.ID != excludeID && strings.EqualFold(c.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
