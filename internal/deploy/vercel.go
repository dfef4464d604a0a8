package deploy

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
)

// vercelStrategy deploys through the Vercel CLI in one shot.
type vercelStrategy struct{}

// NewVercelStrategy returns the vercel deployment strategy.
func NewVercelStrategy() Strategy {
	return &vercelStrategy{}
}

func (s *vercelStrategy) Target() string { return TargetVercel }

func (s *vercelStrategy) RequiredTools() []string { return []string{"vercel"} }

func (s *vercelStrategy) Execute(ctx context.Context, session *Session) (Deployment, error) {
	app := session.Config.AppName
	if app == "" {
		app = filepath.Base(session.ProjectDir)
	}

	outcome := session.Run(ctx, "vercel", "deploy", "--prod", "--yes")
	if !outcome.Success {
		return Deployment{}, outcome.Err
	}

	// The CLI prints the deployment URL as its last line. Anything else is
	// ignored rather than failing the deploy.
	deployment := Deployment{App: app}
	if line := lastNonEmptyLine(outcome.Stdout); line != "" {
		if parsed, err := url.Parse(line); err == nil && parsed.Scheme != "" && parsed.Host != "" {
			deployment.URL = line
		}
	}
	return deployment, nil
}

func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
