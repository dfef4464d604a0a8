package agents

import (
	"context"
	"strings"

	"genesis/internal/protocol"
)

var frontendFiles = map[string][]string{
	"nextjs": {"app/layout.tsx", "app/page.tsx", "components/nav.tsx", "lib/api.ts", "package.json"},
	"react":  {"src/App.tsx", "src/index.tsx", "src/components/Nav.tsx", "src/api.ts", "package.json"},
	"vue":    {"src/App.vue", "src/main.ts", "src/router/index.ts", "src/api.ts", "package.json"},
	"nuxt":   {"app.vue", "pages/index.vue", "composables/useApi.ts", "package.json"},
	"svelte": {"src/App.svelte", "src/main.ts", "src/lib/api.ts", "package.json"},
}

// NewFrontend builds the agent that describes the generated client side:
// routes, views and api bindings.
func NewFrontend() *protocol.Agent {
	agent := protocol.NewAgent(FrontendID, "Frontend Generator", "frontend",
		"frontend_generation", "routing", "component_design")
	agent.RegisterHandler("generate_frontend", generateFrontend)
	agent.RegisterHandler("generate_components", generateComponents)
	agent.RegisterHandler("setup_routing", setupRouting)
	return agent
}

func generateFrontend(ctx context.Context, payload map[string]any) (any, error) {
	framework := stringParam(payload, "framework", "nextjs")
	entities := entityList(payload)

	files := frontendFiles[framework]
	if files == nil {
		files = frontendFiles["nextjs"]
	}

	return map[string]any{
		"framework":       framework,
		"routes":          frontendRoutes(entities),
		"components":      componentNames(entities),
		"generated_files": files,
		"features":        stringsParam(payload, "features"),
	}, nil
}

func generateComponents(ctx context.Context, payload map[string]any) (any, error) {
	entities := entityList(payload)
	return map[string]any{
		"components": componentNames(entities),
		"count":      len(entities) * 3,
	}, nil
}

func setupRouting(ctx context.Context, payload map[string]any) (any, error) {
	entities := entityList(payload)
	return map[string]any{
		"routes": frontendRoutes(entities),
		"guards": []string{"auth"},
	}, nil
}

func frontendRoutes(entities []string) []string {
	routes := []string{"/", "/login", "/register"}
	for _, entity := range entities {
		resource := strings.ToLower(entity) + "s"
		routes = append(routes, "/"+resource, "/"+resource+"/:id")
	}
	return routes
}

func componentNames(entities []string) []string {
	components := make([]string, 0, len(entities)*3)
	for _, entity := range entities {
		components = append(components, entity+"List", entity+"Detail", entity+"Form")
	}
	return components
}
