package plans

// Feature is a metered action recorded in the usage ledger.
type Feature string

const (
	FeatureAssetCreated    Feature = "asset_created"
	FeatureAIAnalysis      Feature = "ai_analysis"
	FeatureVINLookup       Feature = "vin_lookup"
	FeatureTeamMemberAdded Feature = "team_member_added"
	FeaturePDFCertificate  Feature = "pdf_certificate"
	FeatureStorageUsed     Feature = "storage_used"
)

// LimitKind tells how the current value of a limit is measured.
type LimitKind int

const (
	// Standing limits count live rows. Deleting a row frees quota.
	Standing LimitKind = iota
	// PeriodBounded limits sum ledger entries inside the billing period.
	PeriodBounded
)

var featureLimits = map[Feature]LimitKey{
	FeatureAssetCreated:    LimitAssets,
	FeaturePDFCertificate:  LimitAssets, // certificates are issued per registered asset
	FeatureTeamMemberAdded: LimitTeamMembers,
	FeatureStorageUsed:     LimitStorageGB,
	FeatureAIAnalysis:      LimitAIAnalyses,
	FeatureVINLookup:       LimitLookups,
}

// AllFeatures lists every metered feature.
func AllFeatures() []Feature {
	return []Feature{
		FeatureAssetCreated,
		FeatureAIAnalysis,
		FeatureVINLookup,
		FeatureTeamMemberAdded,
		FeaturePDFCertificate,
		FeatureStorageUsed,
	}
}

func (f Feature) Valid() bool {
	_, ok := featureLimits[f]
	return ok
}

// LimitKeyFor maps a feature onto the limit it consumes.
func LimitKeyFor(f Feature) (LimitKey, bool) {
	k, ok := featureLimits[f]
	return k, ok
}

func KindOf(key LimitKey) LimitKind {
	switch key {
	case LimitAIAnalyses, LimitLookups:
		return PeriodBounded
	default:
		return Standing
	}
}
