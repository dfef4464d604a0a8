package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"genesis/internal/protocol"
)

// backendFiles describes the scaffold each framework ships with.
var backendFiles = map[string][]string{
	"fastapi": {"app/main.py", "app/models.py", "app/api/routes.py", "app/core/config.py", "requirements.txt"},
	"django":  {"manage.py", "project/settings.py", "project/urls.py", "app/models.py", "requirements.txt"},
	"flask":   {"app.py", "models.py", "routes.py", "config.py", "requirements.txt"},
	"nestjs":  {"src/main.ts", "src/app.module.ts", "src/app.controller.ts", "package.json"},
	"express": {"src/index.js", "src/routes.js", "src/models.js", "package.json"},
}

// NewBackend builds the agent that describes the generated server side:
// models, REST endpoints, persistence and auth wiring.
func NewBackend() *protocol.Agent {
	agent := protocol.NewAgent(BackendID, "Backend Generator", "backend",
		"backend_generation", "api_design", "database_setup")
	agent.RegisterHandler("generate_backend", generateBackend)
	agent.RegisterHandler("generate_models", generateModels)
	agent.RegisterHandler("generate_api", generateAPI)
	agent.RegisterHandler("setup_database", setupDatabase)
	agent.RegisterHandler("setup_auth", setupAuth)
	agent.RegisterHandler("generate_docs", generateDocs)
	return agent
}

func generateBackend(ctx context.Context, payload map[string]any) (any, error) {
	framework := stringParam(payload, "framework", "fastapi")
	database := stringParam(payload, "database", "postgresql")
	entities := schemaEntities(payload)

	files := backendFiles[framework]
	if files == nil {
		files = backendFiles["fastapi"]
	}

	return map[string]any{
		"framework":       framework,
		"database":        database,
		"entities":        entities,
		"endpoints":       restEndpoints(entities),
		"generated_files": files,
		"features":        stringsParam(payload, "features"),
	}, nil
}

func generateModels(ctx context.Context, payload map[string]any) (any, error) {
	entities := schemaEntities(payload)

	models := make([]map[string]any, 0, len(entities))
	for _, entity := range entities {
		name := strings.ToLower(entity)
		fields := append([]string{"id"}, entityAttributes[name]...)
		models = append(models, map[string]any{
			"name":   entity,
			"table":  name + "s",
			"fields": append(fields, "created_at", "updated_at"),
		})
	}
	return map[string]any{"models": models, "count": len(models)}, nil
}

func generateAPI(ctx context.Context, payload map[string]any) (any, error) {
	entities := schemaEntities(payload)
	return map[string]any{
		"style":     "rest",
		"endpoints": restEndpoints(entities),
	}, nil
}

func setupDatabase(ctx context.Context, payload map[string]any) (any, error) {
	database := stringParam(payload, "database", "postgresql")
	entities := schemaEntities(payload)

	migrations := make([]string, 0, len(entities))
	for i, entity := range entities {
		migrations = append(migrations, fmt.Sprintf("%04d_create_%ss.sql", i+1, strings.ToLower(entity)))
	}
	return map[string]any{
		"database":   database,
		"migrations": migrations,
		"pooling":    map[string]any{"max_connections": 10, "idle_timeout_seconds": 300},
	}, nil
}

func setupAuth(ctx context.Context, payload map[string]any) (any, error) {
	provider := stringParam(payload, "provider", "jwt")
	return map[string]any{
		"provider":   provider,
		"endpoints":  []string{"/auth/register", "/auth/login", "/auth/refresh", "/auth/logout"},
		"middleware": true,
	}, nil
}

func generateDocs(ctx context.Context, payload map[string]any) (any, error) {
	return map[string]any{
		"format": "openapi",
		"path":   "docs/openapi.json",
		"ui":     "/docs",
	}, nil
}

// schemaEntities pulls the entity roster out of an upstream schema or
// architecture result, falling back to the shared entity resolution.
func schemaEntities(payload map[string]any) []string {
	if schema := mapParam(payload, "schema"); schema != nil {
		if tables, ok := schema["tables"].(map[string]any); ok && len(tables) > 0 {
			entities := make([]string, 0, len(tables))
			for table := range tables {
				name := strings.TrimSuffix(table, "s")
				if name == "" {
					continue
				}
				entities = append(entities, strings.ToUpper(name[:1])+name[1:])
			}
			sort.Strings(entities)
			return entities
		}
	}
	return entityList(payload)
}

func restEndpoints(entities []string) []string {
	endpoints := make([]string, 0, len(entities)*5)
	for _, entity := range entities {
		resource := "/api/" + strings.ToLower(entity) + "s"
		endpoints = append(endpoints,
			"GET "+resource,
			"POST "+resource,
			"GET "+resource+"/{id}",
			"PUT "+resource+"/{id}",
			"DELETE "+resource+"/{id}",
		)
	}
	return endpoints
}
