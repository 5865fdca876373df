package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/common"
	"github.com/ternarybob/excerpo/internal/models"
	"github.com/ternarybob/excerpo/internal/services/metadata"
	"github.com/ternarybob/excerpo/internal/storage/badger"
)

const sampleSeed = `groups:
  - name: Financials
    description: Core financial figures
    color: "#10B981"
    configurations:
      - name: Total Revenue
        description: Reported total revenue for the period
        data_type: text
        extraction_prompt: Find the total revenue reported for the period.
        validation:
          regex: '^\$.*'
          default: "$0"
      - name: Filing Date
        data_type: date
        extraction_prompt: Find the date the filing was submitted.
  - name: Governance
    configurations:
      - name: Filing Date
        extraction_prompt: This duplicate links, it does not overwrite.
      - name: Auditor
        extraction_prompt: Find the auditing firm named in the filing.
`

type seedEnv struct {
	svc      *Service
	metadata *metadata.Service
	store    *badger.Manager
}

func newSeedEnv(t *testing.T) *seedEnv {
	t.Helper()
	logger := arbor.NewLogger()

	store, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	meta := metadata.NewService(store.MetadataStorage(), store.ExtractedStorage(), logger)
	return &seedEnv{
		svc:      NewService(meta, logger),
		metadata: meta,
		store:    store,
	}
}

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestApplyCreatesGroupsAndConfigurations(t *testing.T) {
	env := newSeedEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Apply(ctx, writeSeed(t, sampleSeed)))

	groups, err := env.metadata.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	var financials, governance *models.MetadataGroup
	for _, g := range groups {
		switch g.Name {
		case "Financials":
			financials = g
		case "Governance":
			governance = g
		}
	}
	require.NotNil(t, financials)
	require.NotNil(t, governance)
	assert.Equal(t, "#10B981", financials.Color)
	assert.False(t, financials.IsDefault)

	configs, err := env.metadata.ListConfigurations(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 3)

	revenue := findConfig(configs, "Total Revenue")
	require.NotNil(t, revenue)
	assert.Equal(t, models.DataTypeText, revenue.DataType)
	regex, ok := revenue.ValidationRules.Regex()
	require.True(t, ok)
	assert.Equal(t, `^\$.*`, regex)
	def, ok := revenue.ValidationRules.Default()
	require.True(t, ok)
	assert.Equal(t, "$0", def)

	// Filing Date appears under both groups: one configuration, two links,
	// and the first occurrence's prompt wins.
	filingDate := findConfig(configs, "Filing Date")
	require.NotNil(t, filingDate)
	assert.Equal(t, models.DataTypeDate, filingDate.DataType)
	assert.Equal(t, "Find the date the filing was submitted.", filingDate.ExtractionPrompt)

	finCfgs, err := env.metadata.GroupConfigurations(ctx, financials.ID)
	require.NoError(t, err)
	require.Len(t, finCfgs, 2)
	assert.Equal(t, "Total Revenue", finCfgs[0].Name)
	assert.Equal(t, "Filing Date", finCfgs[1].Name)

	govCfgs, err := env.metadata.GroupConfigurations(ctx, governance.ID)
	require.NoError(t, err)
	require.Len(t, govCfgs, 2)
	assert.Equal(t, "Filing Date", govCfgs[0].Name)
	assert.Equal(t, "Auditor", govCfgs[1].Name)
}

func TestApplyIsIdempotent(t *testing.T) {
	env := newSeedEnv(t)
	ctx := context.Background()
	path := writeSeed(t, sampleSeed)

	require.NoError(t, env.svc.Apply(ctx, path))
	require.NoError(t, env.svc.Apply(ctx, path))

	groups, err := env.metadata.ListGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	configs, err := env.metadata.ListConfigurations(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 3)
}

func TestApplyNeverModifiesExisting(t *testing.T) {
	env := newSeedEnv(t)
	ctx := context.Background()

	group := models.NewMetadataGroup("Financials", "Hand-written description", "#FF0000", "tester")
	require.NoError(t, env.metadata.CreateGroup(ctx, group))
	cfg := models.NewMetadataConfiguration("Total Revenue", "", models.DataTypeNumber, "Original prompt.", nil, "tester")
	require.NoError(t, env.metadata.CreateConfiguration(ctx, cfg, []string{group.ID}))

	require.NoError(t, env.svc.Apply(ctx, writeSeed(t, sampleSeed)))

	got, err := env.metadata.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hand-written description", got.Description)
	assert.Equal(t, "#FF0000", got.Color)

	gotCfg, err := env.metadata.GetConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Original prompt.", gotCfg.ExtractionPrompt)
	assert.Equal(t, models.DataTypeNumber, gotCfg.DataType)
	assert.Equal(t, 1, gotCfg.ExtractionPromptVersion)
}

func TestApplyMissingFileSkips(t *testing.T) {
	env := newSeedEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Apply(ctx, ""))
	require.NoError(t, env.svc.Apply(ctx, filepath.Join(t.TempDir(), "absent.yaml")))

	groups, err := env.metadata.ListGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestApplySkipsInvalidDataType(t *testing.T) {
	env := newSeedEnv(t)
	ctx := context.Background()

	content := `groups:
  - name: Financials
    configurations:
      - name: Broken
        data_type: decimal
        extraction_prompt: Never created.
      - name: Auditor
        extraction_prompt: Find the auditing firm named in the filing.
`
	require.NoError(t, env.svc.Apply(ctx, writeSeed(t, content)))

	configs, err := env.metadata.ListConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "Auditor", configs[0].Name)
	assert.Equal(t, models.DataTypeText, configs[0].DataType, "data type defaults to text")
}
