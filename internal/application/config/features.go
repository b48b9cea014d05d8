package config

const (
	FeatureModuleStaging = "module_staging"
	FeatureLogArchive    = "log_archive"
	FeatureRunLedger     = "run_ledger"
)

// DefaultFeatureValues defines the default values for each feature
var DefaultFeatureValues = map[string]bool{
	FeatureModuleStaging: true,
	FeatureLogArchive:    false,
	FeatureRunLedger:     false,
}

// IsFeatureEnabled checks if a feature is enabled in the configuration.
func (c *Config) IsFeatureEnabled(feature string) bool {
	value, exists := c.Features[feature]
	if !exists {
		return DefaultFeatureValues[feature]
	}
	return value
}

// validateAndMergeFeatures drops unknown features and fills in defaults
func validateAndMergeFeatures(configFeatures map[string]bool) map[string]bool {
	merged := make(map[string]bool, len(DefaultFeatureValues))
	for feature, defaultValue := range DefaultFeatureValues {
		if value, exists := configFeatures[feature]; exists {
			merged[feature] = value
		} else {
			merged[feature] = defaultValue
		}
	}
	return merged
}
