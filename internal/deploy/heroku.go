package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var herokuURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.herokuapp\.com`)

// herokuStrategy deploys through the Heroku CLI: create the app, point the
// git remote at it, push HEAD.
type herokuStrategy struct{}

// NewHerokuStrategy returns the heroku deployment strategy.
func NewHerokuStrategy() Strategy {
	return &herokuStrategy{}
}

func (s *herokuStrategy) Target() string { return TargetHeroku }

func (s *herokuStrategy) RequiredTools() []string { return []string{"heroku", "git"} }

func (s *herokuStrategy) Execute(ctx context.Context, session *Session) (Deployment, error) {
	app := session.Config.AppName
	if app == "" {
		// Heroku app names reject underscores.
		app = strings.ReplaceAll(filepath.Base(session.ProjectDir), "_", "-")
	}

	var output strings.Builder
	for _, command := range [][]string{
		{"heroku", "create", app},
		{"heroku", "git:remote", "-a", app},
		{"git", "push", "heroku", "HEAD:main"},
	} {
		outcome := session.Run(ctx, command[0], command[1:]...)
		output.WriteString(outcome.Stdout)
		output.WriteString(outcome.Stderr)
		if !outcome.Success {
			return Deployment{}, outcome.Err
		}
	}

	url := herokuURLPattern.FindString(output.String())
	if url == "" {
		url = fmt.Sprintf("https://%s.herokuapp.com", app)
	}
	return Deployment{App: app, URL: url, RollbackAvailable: true}, nil
}

func (s *herokuStrategy) Rollback(ctx context.Context, session *Session, app string) error {
	if outcome := session.Run(ctx, "heroku", "releases:rollback", "-a", app); !outcome.Success {
		return outcome.Err
	}
	return nil
}
