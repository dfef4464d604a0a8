package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genesiserrors "genesis/internal/errors"
)

// fakeRunner scripts command outcomes by command-line prefix and records
// every invocation in order. Unscripted commands succeed.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	dirs  []string
	stubs []runnerStub
}

type runnerStub struct {
	prefix  string
	outcome CommandOutcome
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{}
}

func (r *fakeRunner) stub(prefix string, outcome CommandOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stubs = append(r.stubs, runnerStub{prefix: prefix, outcome: outcome})
}

func (r *fakeRunner) stubFailure(prefix, stderr string, exitCode int) {
	r.stub(prefix, CommandOutcome{
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      &genesiserrors.ExternalCommandError{Command: prefix, ExitCode: exitCode, Stderr: stderr},
	})
}

func (r *fakeRunner) Run(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) CommandOutcome {
	command := commandLine(name, args)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, command)
	r.dirs = append(r.dirs, dir)

	for _, s := range r.stubs {
		if strings.HasPrefix(command, s.prefix) {
			return s.outcome
		}
	}
	return CommandOutcome{Success: true}
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRunner) called(prefix string) bool {
	for _, call := range r.commands() {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func newTestExecutor(t *testing.T, runner Runner, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{WithRunner(runner), WithCommandTimeout(time.Second)}, opts...)
	return NewExecutor(opts...)
}

func TestExecutor_HerokuSuccess(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("heroku create", CommandOutcome{
		Success: true,
		Stdout:  "Creating demo-shop... done\nhttps://demo-shop.herokuapp.com/ | https://git.heroku.com/demo-shop.git\n",
	})
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/demo-shop", Config{
		Target:      TargetHeroku,
		Environment: EnvProduction,
		AppName:     "demo-shop",
	})

	require.True(t, result.Success)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, "demo-shop", result.App)
	assert.Equal(t, "https://demo-shop.herokuapp.com", result.URL)
	assert.True(t, result.RollbackAvailable)
	assert.Empty(t, result.Error)
	assert.Greater(t, result.Elapsed, time.Duration(0))

	// Preflight probes first, then the strategy's fixed sequence.
	assert.Equal(t, []string{
		"heroku --version",
		"git --version",
		"heroku create demo-shop",
		"heroku git:remote -a demo-shop",
		"git push heroku HEAD:main",
	}, runner.commands())

	assert.Contains(t, result.Logs, "$ heroku create demo-shop")
	assert.Contains(t, result.Logs, "$ git push heroku HEAD:main")
}

func TestExecutor_HerokuURLFallsBackToAppName(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())

	result := e.Deploy(context.Background(), "/tmp/demo-shop", Config{Target: TargetHeroku, AppName: "demo-shop"})

	require.True(t, result.Success)
	assert.Equal(t, "https://demo-shop.herokuapp.com", result.URL)
}

func TestExecutor_HerokuAppNameFromProjectDir(t *testing.T) {
	runner := newFakeRunner()
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/demo_shop", Config{Target: TargetHeroku})

	require.True(t, result.Success)
	assert.Equal(t, "demo-shop", result.App)
	assert.True(t, runner.called("heroku create demo-shop"))
}

func TestExecutor_FirstFailingCommandAbortsSequence(t *testing.T) {
	runner := newFakeRunner()
	runner.stubFailure("git push", "remote rejected", 1)
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/demo-shop", Config{Target: TargetHeroku, AppName: "demo-shop"})

	require.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Error, "git push")
	assert.True(t, runner.called("heroku create"))
	assert.True(t, runner.called("git push"))
	// The log carries the failing command and its error line.
	assert.Contains(t, result.Logs, "$ git push heroku HEAD:main")
}

func TestExecutor_PreflightFailureSkipsExecution(t *testing.T) {
	runner := newFakeRunner()
	runner.stubFailure("vercel --version", "vercel: command not found", 127)
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel})

	require.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.False(t, runner.called("vercel deploy"))
}

func TestExecutor_PreflightDisabled(t *testing.T) {
	runner := newFakeRunner()
	e := newTestExecutor(t, runner, WithPreflight(false))

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel})

	require.True(t, result.Success)
	assert.False(t, runner.called("vercel --version"))
	assert.True(t, runner.called("vercel deploy"))
}

func TestExecutor_UnknownTarget(t *testing.T) {
	runner := newFakeRunner()
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: "netlify"})

	require.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Error, "netlify")
	assert.Empty(t, runner.commands())
}

func TestExecutor_InvalidEnvironment(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel, Environment: "qa"})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "environment")
}

func TestExecutor_EnvironmentDefaultsToDevelopment(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel})

	require.True(t, result.Success)
	assert.Equal(t, EnvDevelopment, result.Environment)
}

func TestExecutor_VercelURLFromLastLine(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("vercel deploy", CommandOutcome{
		Success: true,
		Stdout:  "Inspect: https://vercel.com/acme/site/abc\nProduction: ready\nhttps://site-acme.vercel.app\n",
	})
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel, AppName: "site"})

	require.True(t, result.Success)
	assert.Equal(t, "https://site-acme.vercel.app", result.URL)
}

func TestExecutor_VercelIgnoresNonURLOutput(t *testing.T) {
	runner := newFakeRunner()
	runner.stub("vercel deploy", CommandOutcome{Success: true, Stdout: "deployment queued\n"})
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel})

	require.True(t, result.Success)
	assert.Empty(t, result.URL)
}

func TestExecutor_AWSDeploysThroughS3(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "main.py"), []byte("print('hi')\n"), 0o644))

	runner := newFakeRunner()
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), projectDir, Config{
		Target:      TargetAWS,
		Environment: EnvStaging,
		AppName:     "checkout",
		Region:      "eu-west-1",
	})

	require.True(t, result.Success)
	assert.Equal(t, "checkout", result.App)
	assert.Contains(t, result.URL, "eu-west-1")

	commands := runner.commands()
	require.Len(t, commands, 3)
	assert.Equal(t, "aws --version", commands[0])
	assert.Contains(t, commands[1], "aws s3 cp")
	assert.Contains(t, commands[1], "s3://checkout-deploy/")
	assert.Contains(t, commands[1], "--region eu-west-1")
	assert.Contains(t, commands[2], "aws deploy create-deployment")
	assert.Contains(t, commands[2], "--application-name checkout")
	assert.Contains(t, commands[2], "--deployment-group-name staging")
	assert.Contains(t, commands[2], "bundleType=zip")
}

func TestExecutor_AWSRegionDefault(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "main.py"), []byte("x\n"), 0o644))

	runner := newFakeRunner()
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), projectDir, Config{Target: TargetAWS, AppName: "api"})

	require.True(t, result.Success)
	assert.Contains(t, runner.commands()[1], "--region us-east-1")
}

func TestExecutor_AWSArchiveRemovedOnEveryPath(t *testing.T) {
	assertNoArchives := func(t *testing.T, projectDir, app string) {
		t.Helper()
		inProject, err := filepath.Glob(filepath.Join(projectDir, "*.zip"))
		require.NoError(t, err)
		assert.Empty(t, inProject, "archive left inside project directory")
		inTemp, err := filepath.Glob(filepath.Join(os.TempDir(), app+"-deploy-*.zip"))
		require.NoError(t, err)
		assert.Empty(t, inTemp, "archive left in temp directory")
	}

	t.Run("success", func(t *testing.T) {
		projectDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(projectDir, "main.py"), []byte("x\n"), 0o644))
		app := fmt.Sprintf("cleanup-ok-%d", time.Now().UnixNano())

		result := newTestExecutor(t, newFakeRunner()).Deploy(context.Background(), projectDir,
			Config{Target: TargetAWS, AppName: app})

		require.True(t, result.Success)
		assertNoArchives(t, projectDir, app)
	})

	t.Run("upload failure", func(t *testing.T) {
		projectDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(projectDir, "main.py"), []byte("x\n"), 0o644))
		app := fmt.Sprintf("cleanup-fail-%d", time.Now().UnixNano())

		runner := newFakeRunner()
		runner.stubFailure("aws s3 cp", "access denied", 1)

		result := newTestExecutor(t, runner).Deploy(context.Background(), projectDir,
			Config{Target: TargetAWS, AppName: app})

		require.False(t, result.Success)
		assert.False(t, runner.called("aws deploy create-deployment"))
		assertNoArchives(t, projectDir, app)
	})
}

func TestExecutor_AWSPackagingFailure(t *testing.T) {
	runner := newFakeRunner()
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/definitely/not/a/real/project", Config{Target: TargetAWS, AppName: "ghost"})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "packaging")
	assert.False(t, runner.called("aws s3 cp"))
}

func TestExecutor_DeployAllTargetsAreIndependent(t *testing.T) {
	runner := newFakeRunner()
	runner.stubFailure("git push", "remote rejected", 1)
	e := newTestExecutor(t, runner)

	results := e.DeployAll(context.Background(), "/tmp/site", []Config{
		{Target: TargetHeroku, AppName: "site"},
		{Target: TargetVercel, AppName: "site"},
	})

	require.Len(t, results, 2)
	assert.Equal(t, TargetHeroku, results[0].Target)
	assert.False(t, results[0].Success)
	assert.Equal(t, TargetVercel, results[1].Target)
	assert.True(t, results[1].Success, "sibling failure must not cancel this attempt")
}

func TestExecutor_StatusTracksHistory(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())

	e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetHeroku, AppName: "site"})
	e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel, AppName: "site"})

	status := e.Status()
	assert.Equal(t, []string{TargetAWS, TargetHeroku, TargetVercel}, status.Targets)
	assert.Empty(t, status.Active)
	assert.Equal(t, int64(2), status.Total)
	require.Len(t, status.Recent, 2)
	assert.Equal(t, TargetHeroku, status.Recent[0].Target)
	assert.Equal(t, TargetVercel, status.Recent[1].Target)
}

func TestExecutor_StateHookSeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var states []State
	hook := func(target, environment string, state State) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	}

	e := newTestExecutor(t, newFakeRunner(), WithStateHook(hook))
	e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StatePending, StateValidating, StateExecuting, StateSucceeded}, states)
}

func TestExecutor_RollbackReplaysLastDeployment(t *testing.T) {
	runner := newFakeRunner()
	e := newTestExecutor(t, runner)

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetHeroku, AppName: "site", Environment: EnvProduction})
	require.True(t, result.Success)

	require.NoError(t, e.Rollback(context.Background(), "/tmp/site", TargetHeroku, EnvProduction))
	assert.True(t, runner.called("heroku releases:rollback -a site"))
}

func TestExecutor_RollbackWithoutHistory(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())

	err := e.Rollback(context.Background(), "/tmp/site", TargetHeroku, EnvProduction)

	require.Error(t, err)
	assert.True(t, genesiserrors.IsValidation(err))
	assert.Contains(t, err.Error(), "no recorded deployment")
}

func TestExecutor_RollbackUnsupportedForTarget(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: TargetVercel, AppName: "site"})
	require.True(t, result.Success)

	err := e.Rollback(context.Background(), "/tmp/site", TargetVercel, EnvDevelopment)
	require.Error(t, err)
	assert.True(t, genesiserrors.IsValidation(err))
}

// panicStrategy exercises the executor's outermost recovery boundary.
type panicStrategy struct{}

func (panicStrategy) Target() string          { return "explosive" }
func (panicStrategy) RequiredTools() []string { return nil }
func (panicStrategy) Execute(ctx context.Context, session *Session) (Deployment, error) {
	panic("boom")
}

func TestExecutor_StrategyPanicBecomesFailedResult(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())
	e.RegisterStrategy(panicStrategy{})

	result := e.Deploy(context.Background(), "/tmp/site", Config{Target: "explosive"})

	require.False(t, result.Success)
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Error, "panic")
	assert.Equal(t, int64(1), e.Status().Total)
}

func TestExecutor_ConcurrentDeploysSameExecutor(t *testing.T) {
	e := newTestExecutor(t, newFakeRunner())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := TargetVercel
			if i%2 == 0 {
				target = TargetHeroku
			}
			result := e.Deploy(context.Background(), "/tmp/site", Config{Target: target, AppName: "site"})
			assert.True(t, result.Success)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(8), e.Status().Total)
}
