package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// MetadataStorage implements the MetadataStorage interface for Badger.
// Groups, configurations, and the links joining them share one storage
// because callers almost always touch them together.
type MetadataStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMetadataStorage creates a new MetadataStorage instance
func NewMetadataStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MetadataStorage {
	return &MetadataStorage{
		db:     db,
		logger: logger,
	}
}

func (s *MetadataStorage) SaveGroup(ctx context.Context, group *models.MetadataGroup) error {
	if group.ID == "" {
		return fmt.Errorf("group ID is required")
	}

	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	if err := s.db.Store().Upsert(group.ID, group); err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

func (s *MetadataStorage) GetGroup(ctx context.Context, id string) (*models.MetadataGroup, error) {
	var group models.MetadataGroup
	if err := s.db.Store().Get(id, &group); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("group %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

func (s *MetadataStorage) GetGroupByName(ctx context.Context, name string) (*models.MetadataGroup, error) {
	var groups []models.MetadataGroup
	if err := s.db.Store().Find(&groups, badgerhold.Where("Name").Eq(name)); err != nil {
		return nil, fmt.Errorf("failed to find group by name: %w", err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("group %q: %w", name, models.ErrNotFound)
	}
	return &groups[0], nil
}

func (s *MetadataStorage) GetDefaultGroup(ctx context.Context) (*models.MetadataGroup, error) {
	var groups []models.MetadataGroup
	if err := s.db.Store().Find(&groups, badgerhold.Where("IsDefault").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to find default group: %w", err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("default group: %w", models.ErrNotFound)
	}
	return &groups[0], nil
}

func (s *MetadataStorage) ListGroups(ctx context.Context) ([]*models.MetadataGroup, error) {
	var groups []models.MetadataGroup
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt")
	if err := s.db.Store().Find(&groups, query); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	result := make([]*models.MetadataGroup, len(groups))
	for i := range groups {
		result[i] = &groups[i]
	}
	return result, nil
}

func (s *MetadataStorage) DeleteGroup(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.MetadataGroup{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

func (s *MetadataStorage) SaveConfiguration(ctx context.Context, cfg *models.MetadataConfiguration) error {
	if cfg.ID == "" {
		return fmt.Errorf("configuration ID is required")
	}

	now := time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	if err := s.db.Store().Upsert(cfg.ID, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	return nil
}

func (s *MetadataStorage) GetConfiguration(ctx context.Context, id string) (*models.MetadataConfiguration, error) {
	var cfg models.MetadataConfiguration
	if err := s.db.Store().Get(id, &cfg); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("configuration %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return &cfg, nil
}

func (s *MetadataStorage) GetConfigurationByName(ctx context.Context, name string) (*models.MetadataConfiguration, error) {
	var cfgs []models.MetadataConfiguration
	if err := s.db.Store().Find(&cfgs, badgerhold.Where("Name").Eq(name)); err != nil {
		return nil, fmt.Errorf("failed to find configuration by name: %w", err)
	}
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("configuration %q: %w", name, models.ErrNotFound)
	}
	return &cfgs[0], nil
}

func (s *MetadataStorage) ListConfigurations(ctx context.Context) ([]*models.MetadataConfiguration, error) {
	var cfgs []models.MetadataConfiguration
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt")
	if err := s.db.Store().Find(&cfgs, query); err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}

	result := make([]*models.MetadataConfiguration, len(cfgs))
	for i := range cfgs {
		result[i] = &cfgs[i]
	}
	return result, nil
}

func (s *MetadataStorage) DeleteConfiguration(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.MetadataConfiguration{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete configuration: %w", err)
	}
	return nil
}

func (s *MetadataStorage) SaveLink(ctx context.Context, link *models.GroupConfigLink) error {
	if link.GroupID == "" || link.ConfigID == "" {
		return fmt.Errorf("link requires group ID and config ID")
	}

	if link.AddedAt.IsZero() {
		link.AddedAt = time.Now()
	}

	if err := s.db.Store().Upsert(link.Key(), link); err != nil {
		return fmt.Errorf("failed to save link: %w", err)
	}
	return nil
}

func (s *MetadataStorage) GetLink(ctx context.Context, groupID, configID string) (*models.GroupConfigLink, error) {
	key := groupID + "/" + configID
	var link models.GroupConfigLink
	if err := s.db.Store().Get(key, &link); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("link %s: %w", key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return &link, nil
}

func (s *MetadataStorage) ListLinksByGroup(ctx context.Context, groupID string) ([]*models.GroupConfigLink, error) {
	var links []models.GroupConfigLink
	query := badgerhold.Where("GroupID").Eq(groupID).SortBy("DisplayOrder")
	if err := s.db.Store().Find(&links, query); err != nil {
		return nil, fmt.Errorf("failed to list links by group: %w", err)
	}

	result := make([]*models.GroupConfigLink, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result, nil
}

func (s *MetadataStorage) ListLinksByConfig(ctx context.Context, configID string) ([]*models.GroupConfigLink, error) {
	var links []models.GroupConfigLink
	if err := s.db.Store().Find(&links, badgerhold.Where("ConfigID").Eq(configID)); err != nil {
		return nil, fmt.Errorf("failed to list links by config: %w", err)
	}

	result := make([]*models.GroupConfigLink, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result, nil
}

func (s *MetadataStorage) DeleteLink(ctx context.Context, groupID, configID string) error {
	key := groupID + "/" + configID
	if err := s.db.Store().Delete(key, &models.GroupConfigLink{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete link: %w", err)
	}
	return nil
}

func (s *MetadataStorage) DeleteLinksByGroup(ctx context.Context, groupID string) error {
	err := s.db.Store().DeleteMatching(&models.GroupConfigLink{}, badgerhold.Where("GroupID").Eq(groupID))
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete links: %w", err)
	}
	return nil
}
