package agents

import (
	"context"
	"fmt"
	"strings"

	"genesis/internal/protocol"
)

// Entity rosters and feature sets per project template.
var (
	templateEntities = map[string][]string{
		"saas-basic": {"User", "Organization", "Subscription", "Payment"},
		"ecommerce":  {"User", "Product", "Order", "Payment", "Category"},
		"web-app":    {"User"},
	}
	templateFeatures = map[string][]string{
		"saas-basic": {"authentication", "billing", "multi_tenancy"},
		"ecommerce":  {"catalog", "cart", "checkout", "inventory"},
		"web-app":    {"authentication"},
	}
)

// entityAttributes holds the default modeled attributes per entity. A
// `<name>_id` attribute marks a reference to another entity.
var entityAttributes = map[string][]string{
	"user":         {"email", "password", "name", "active"},
	"organization": {"name", "plan", "owner_id"},
	"subscription": {"organization_id", "plan", "status", "renews_at"},
	"product":      {"name", "description", "price", "category_id"},
	"order":        {"user_id", "total", "status", "ordered_at"},
	"payment":      {"order_id", "amount", "method", "status"},
	"category":     {"name", "description", "parent_id"},
}

// NewArchitect builds the agent that turns a template and feature list into
// requirements, an architecture description and a storage schema.
func NewArchitect() *protocol.Agent {
	agent := protocol.NewAgent(ArchitectID, "Architect", "architect",
		"requirements_analysis", "architecture_design", "schema_generation")
	agent.RegisterHandler("analyze_requirements", analyzeRequirements)
	agent.RegisterHandler("design_architecture", designArchitecture)
	agent.RegisterHandler("generate_schema", generateSchema)
	return agent
}

func analyzeRequirements(ctx context.Context, payload map[string]any) (any, error) {
	template := stringParam(payload, "template", "saas-basic")

	entities := append([]string(nil), templateEntities[template]...)
	if len(entities) == 0 {
		entities = []string{"User"}
	}
	features := mergeUnique(templateFeatures[template], stringsParam(payload, "features"))

	complexity := len(entities)*2 + len(features)*3
	return map[string]any{
		"template":        template,
		"entities":        entities,
		"features":        features,
		"relationships":   entityRelationships(entities),
		"complexity":      complexity,
		"estimated_weeks": 1 + complexity/10,
	}, nil
}

func designArchitecture(ctx context.Context, payload map[string]any) (any, error) {
	entities := entityList(payload)

	// Larger domains get the extra indirection of a clean architecture.
	pattern := "layered"
	layers := []string{"api", "service", "model"}
	if len(entities) > 4 {
		pattern = "clean"
		layers = []string{"api", "service", "repository", "model"}
	}

	components := make(map[string]any, len(entities))
	for _, entity := range entities {
		name := strings.ToLower(entity)
		components[entity] = []string{
			name + "_model",
			name + "_service",
			name + "_api",
		}
	}

	return map[string]any{
		"pattern":    pattern,
		"layers":     layers,
		"entities":   entities,
		"components": components,
	}, nil
}

func generateSchema(ctx context.Context, payload map[string]any) (any, error) {
	database := stringParam(payload, "database", "postgresql")
	entities := entityList(payload)

	tables := make(map[string]any, len(entities))
	for _, entity := range entities {
		name := strings.ToLower(entity)
		columns := []string{"id"}
		columns = append(columns, entityAttributes[name]...)
		columns = append(columns, "created_at", "updated_at")
		tables[name+"s"] = columns
	}

	return map[string]any{
		"database":    database,
		"tables":      tables,
		"table_count": len(tables),
	}, nil
}

// entityList extracts the entity roster from an upstream step result carried
// in the payload, falling back to the template's roster.
func entityList(payload map[string]any) []string {
	for _, key := range []string{"requirements", "architecture"} {
		if upstream := mapParam(payload, key); upstream != nil {
			if entities := stringsParam(upstream, "entities"); len(entities) > 0 {
				return entities
			}
		}
	}
	if entities := stringsParam(payload, "entities"); len(entities) > 0 {
		return entities
	}
	template := stringParam(payload, "template", "saas-basic")
	if entities := templateEntities[template]; len(entities) > 0 {
		return append([]string(nil), entities...)
	}
	return []string{"User"}
}

// entityRelationships derives references from `<name>_id` attributes between
// entities present in the roster.
func entityRelationships(entities []string) []map[string]any {
	present := make(map[string]string, len(entities))
	for _, entity := range entities {
		present[strings.ToLower(entity)] = entity
	}

	var relationships []map[string]any
	for _, entity := range entities {
		for _, attr := range entityAttributes[strings.ToLower(entity)] {
			if !strings.HasSuffix(attr, "_id") {
				continue
			}
			ref := strings.TrimSuffix(attr, "_id")
			if ref == "parent" {
				ref = strings.ToLower(entity)
			}
			from, ok := present[ref]
			if !ok {
				continue
			}
			relationships = append(relationships, map[string]any{
				"from": from,
				"to":   entity,
				"type": "one_to_many",
				"via":  fmt.Sprintf("%ss.%s", strings.ToLower(entity), attr),
			})
		}
	}
	return relationships
}
