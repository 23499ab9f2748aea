package provisioning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vendin/pkg/tenants"
)

// Resources is the compute ceiling applied to a tenant service.
type Resources struct {
	CPU          string `yaml:"cpu"`
	Memory       string `yaml:"memory"`
	MaxInstances int    `yaml:"max_instances"`
}

// Catalog maps plans to resource ceilings.
type Catalog map[tenants.Plan]Resources

// DefaultCatalog mirrors the built-in plan tiers; a YAML file can override it.
func DefaultCatalog() Catalog {
	return Catalog{
		tenants.PlanFree:         {CPU: "1", Memory: "512Mi", MaxInstances: 1},
		tenants.PlanStarter:      {CPU: "1", Memory: "512Mi", MaxInstances: 3},
		tenants.PlanProfessional: {CPU: "2", Memory: "1024Mi", MaxInstances: 5},
		tenants.PlanEnterprise:   {CPU: "4", Memory: "2048Mi", MaxInstances: 10},
	}
}

// LoadCatalog reads plan overrides from a YAML file, falling back to the
// defaults for plans the file does not mention. An empty path returns the
// defaults unchanged.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	var overrides map[tenants.Plan]Resources
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	for plan, res := range overrides {
		cat[plan] = res
	}
	return cat, nil
}

// For resolves the ceiling for a plan, defaulting unknown plans to free.
func (c Catalog) For(plan tenants.Plan) Resources {
	if r, ok := c[plan]; ok {
		return r
	}
	return c[tenants.PlanFree]
}
