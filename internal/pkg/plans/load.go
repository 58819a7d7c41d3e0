package plans

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type fileLimits struct {
	Assets      *int64 `mapstructure:"assets"`
	TeamMembers *int64 `mapstructure:"team_members"`
	AIAnalyses  *int64 `mapstructure:"ai_analyses"`
	StorageGB   *int64 `mapstructure:"storage_gb"`
	Lookups     *int64 `mapstructure:"lookups"`
}

type fileFeatures struct {
	Certificates      *bool `mapstructure:"certificates"`
	AdvancedAnalytics *bool `mapstructure:"advanced_analytics"`
	PrioritySupport   *bool `mapstructure:"priority_support"`
	APIAccess         *bool `mapstructure:"api_access"`
}

type filePlan struct {
	ID       string       `mapstructure:"id"`
	Name     string       `mapstructure:"name"`
	Limits   fileLimits   `mapstructure:"limits"`
	Features fileFeatures `mapstructure:"features"`
}

type filePrice struct {
	Price string `mapstructure:"price"`
	Plan  string `mapstructure:"plan"`
}

type catalogFile struct {
	Plans  []filePlan  `mapstructure:"plans"`
	Prices []filePrice `mapstructure:"prices"`
}

// LoadCatalogFile reads a YAML/JSON/TOML file and overlays it on base.
// Only plans already present in base can be changed; the file cannot add
// tiers. Price mappings from the file are added to the given prices.
//
//	plans:
//	  - id: dealer
//	    limits: { assets: 750 }
//	prices:
//	  - { price: price_123, plan: dealer }
func LoadCatalogFile(path string, base []Plan, prices map[string]PlanID) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("plans: read catalog file: %w", err)
	}
	var cf catalogFile
	if err := v.Unmarshal(&cf); err != nil {
		return nil, fmt.Errorf("plans: decode catalog file: %w", err)
	}

	merged := make([]Plan, len(base))
	copy(merged, base)
	index := make(map[PlanID]int, len(merged))
	for i, p := range merged {
		index[p.ID] = i
	}
	for _, fp := range cf.Plans {
		id := PlanID(strings.ToLower(strings.TrimSpace(fp.ID)))
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrUnknownPlan, fp.ID, path)
		}
		merged[i] = fp.apply(merged[i])
	}

	allPrices := make(map[string]PlanID, len(prices)+len(cf.Prices))
	for k, v := range prices {
		allPrices[k] = v
	}
	for _, fp := range cf.Prices {
		allPrices[strings.TrimSpace(fp.Price)] = PlanID(strings.ToLower(strings.TrimSpace(fp.Plan)))
	}
	return NewCatalog(merged, allPrices)
}

func (fp filePlan) apply(p Plan) Plan {
	if name := strings.TrimSpace(fp.Name); name != "" {
		p.Name = name
	}
	setInt(&p.Limits.Assets, fp.Limits.Assets)
	setInt(&p.Limits.TeamMembers, fp.Limits.TeamMembers)
	setInt(&p.Limits.AIAnalyses, fp.Limits.AIAnalyses)
	setInt(&p.Limits.StorageGB, fp.Limits.StorageGB)
	setInt(&p.Limits.Lookups, fp.Limits.Lookups)
	setBool(&p.Features.Certificates, fp.Features.Certificates)
	setBool(&p.Features.AdvancedAnalytics, fp.Features.AdvancedAnalytics)
	setBool(&p.Features.PrioritySupport, fp.Features.PrioritySupport)
	setBool(&p.Features.APIAccess, fp.Features.APIAccess)
	return p
}

func setInt(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
