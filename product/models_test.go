package product

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const organizationMetadata = `{
  "features": [
    {
      "name": "custom_portal",
      "label": "Branded Portals",
      "description": "Showcase your research, data, results, and usage metrics by building a custom web portal.",
      "quota": {"quotaType": "portal", "softLimit": 3, "hardLimit": 3, "unit": "portal"}
    },
    {"name": "custom_search_filters", "label": "Custom Search Filters"},
    {"name": "fair_data_assessment", "label": "FAIR Data Assessments"},
    {"name": "custom_quality_metrics", "label": "Custom Quality Metrics"},
    {"name": "aggregated_metrics", "label": "Aggregated Metrics"},
    {"name": "dataone_voting_member", "label": "DataONE Voting Member"}
  ]
}`

func organization(t *testing.T) *Product {
	t.Helper()
	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(organizationMetadata), &meta))
	return &Product{
		ID:       1000,
		Object:   ObjectType,
		Active:   true,
		Name:     "Organization",
		Amount:   180000,
		Currency: "USD",
		Interval: IntervalYear,
		Metadata: meta,
	}
}

func TestFeatures(t *testing.T) {
	p := organization(t)

	features, err := p.Features()
	require.NoError(t, err)
	require.Len(t, features, 6)
	assert.Equal(t, "custom_portal", features[0].Name)
	require.NotNil(t, features[0].Quota)
	assert.Equal(t, int64(3), features[0].Quota.SoftLimit)
	assert.Equal(t, int64(3), features[0].Quota.HardLimit)
	assert.Nil(t, features[1].Quota)
}

func TestQuotaFeatures(t *testing.T) {
	features, err := organization(t).QuotaFeatures()
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "portal", features[0].Quota.QuotaType)
}

func TestFeaturesMissingOrInvalid(t *testing.T) {
	p := &Product{ID: 1}
	features, err := p.Features()
	require.NoError(t, err)
	assert.Empty(t, features)

	p.Metadata = map[string]any{MetadataFeaturesKey: "not-a-list"}
	_, err = p.Features()
	assert.Error(t, err)
}

func TestSetFeatures(t *testing.T) {
	p := &Product{ID: 2}
	p.SetFeatures([]Feature{{Name: "storage", Quota: &QuotaTemplate{SoftLimit: 10, HardLimit: 20}}})

	features, err := p.QuotaFeatures()
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, int64(20), features[0].Quota.HardLimit)
}
