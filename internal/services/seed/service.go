package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
	"gopkg.in/yaml.v3"
)

// seededBy marks groups and configurations created from the seed file.
const seededBy = "seed"

type seedFile struct {
	Groups []seedGroup `yaml:"groups"`
}

type seedGroup struct {
	Name           string              `yaml:"name"`
	Description    string              `yaml:"description"`
	Color          string              `yaml:"color"`
	Configurations []seedConfiguration `yaml:"configurations"`
}

type seedConfiguration struct {
	Name             string            `yaml:"name"`
	Description      string            `yaml:"description"`
	DataType         string            `yaml:"data_type"`
	ExtractionPrompt string            `yaml:"extraction_prompt"`
	Validation       map[string]string `yaml:"validation"`
}

// Service loads metadata groups and configurations from a YAML file at
// startup. Seeding is additive and idempotent by name: existing groups and
// configurations are never modified, and a known configuration listed under
// a new group is linked, not recreated.
type Service struct {
	metadata interfaces.MetadataService
	logger   arbor.ILogger
}

func NewService(metadata interfaces.MetadataService, logger arbor.ILogger) *Service {
	return &Service{
		metadata: metadata,
		logger:   logger,
	}
}

// Apply reads the seed file and creates whatever is missing. A missing or
// unconfigured file is not an error.
func (s *Service) Apply(ctx context.Context, file string) error {
	if file == "" {
		s.logger.Debug().Msg("No seed file configured, skipping")
		return nil
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		s.logger.Debug().Str("file", file).Msg("Seed file does not exist, skipping")
		return nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seeds seedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	groups, err := s.metadata.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	configs, err := s.metadata.ListConfigurations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list configurations: %w", err)
	}

	var createdGroups, createdConfigs, linked int
	for _, sg := range seeds.Groups {
		if strings.TrimSpace(sg.Name) == "" {
			s.logger.Warn().Msg("Skipping seed group without a name")
			continue
		}

		group := findGroup(groups, sg.Name)
		if group == nil {
			group = models.NewMetadataGroup(sg.Name, sg.Description, sg.Color, seededBy)
			if err := s.metadata.CreateGroup(ctx, group); err != nil {
				s.logger.Warn().Err(err).Str("group", sg.Name).Msg("Failed to seed group")
				continue
			}
			groups = append(groups, group)
			createdGroups++
		}

		for _, sc := range sg.Configurations {
			if strings.TrimSpace(sc.Name) == "" {
				s.logger.Warn().Str("group", sg.Name).Msg("Skipping seed configuration without a name")
				continue
			}

			if existing := findConfig(configs, sc.Name); existing != nil {
				// Known configuration under another group: add the link,
				// leave the configuration itself untouched.
				if err := s.metadata.LinkConfiguration(ctx, group.ID, existing.ID, seededBy); err != nil {
					s.logger.Warn().Err(err).
						Str("group", sg.Name).
						Str("configuration", sc.Name).
						Msg("Failed to link seeded configuration")
					continue
				}
				linked++
				continue
			}

			dataType, err := parseDataType(sc.DataType)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("group", sg.Name).
					Str("configuration", sc.Name).
					Msg("Skipping seed configuration")
				continue
			}

			cfg := models.NewMetadataConfiguration(sc.Name, sc.Description, dataType, sc.ExtractionPrompt, toRules(sc.Validation), seededBy)
			if err := s.metadata.CreateConfiguration(ctx, cfg, []string{group.ID}); err != nil {
				s.logger.Warn().Err(err).
					Str("group", sg.Name).
					Str("configuration", sc.Name).
					Msg("Failed to seed configuration")
				continue
			}
			configs = append(configs, cfg)
			createdConfigs++
		}
	}

	if createdGroups > 0 || createdConfigs > 0 || linked > 0 {
		s.logger.Info().
			Str("file", file).
			Int("groups", createdGroups).
			Int("configurations", createdConfigs).
			Int("links", linked).
			Msg("Seed applied")
	} else {
		s.logger.Debug().Str("file", file).Msg("Seed already applied, nothing to do")
	}

	return nil
}

func findGroup(groups []*models.MetadataGroup, name string) *models.MetadataGroup {
	for _, g := range groups {
		if strings.EqualFold(g.Name, name) {
			return g
		}
	}
	return nil
}

func findConfig(configs []*models.MetadataConfiguration, name string) *models.MetadataConfiguration {
	for _, c := range configs {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func parseDataType(raw string) (models.DataType, error) {
	if strings.TrimSpace(raw) == "" {
		return models.DataTypeText, nil
	}
	dt := models.DataType(strings.ToLower(strings.TrimSpace(raw)))
	if !dt.Valid() {
		return "", fmt.Errorf("unknown data type %q", raw)
	}
	return dt, nil
}

func toRules(validation map[string]string) models.ValidationRules {
	if len(validation) == 0 {
		return nil
	}
	rules := make(models.ValidationRules, len(validation))
	for k, v := range validation {
		rules[k] = v
	}
	return rules
}
