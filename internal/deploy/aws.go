package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// awsStrategy packages the project and hands it to CodeDeploy through S3.
type awsStrategy struct{}

// NewAWSStrategy returns the aws deployment strategy.
func NewAWSStrategy() Strategy {
	return &awsStrategy{}
}

func (s *awsStrategy) Target() string { return TargetAWS }

func (s *awsStrategy) RequiredTools() []string { return []string{"aws"} }

func (s *awsStrategy) Execute(ctx context.Context, session *Session) (Deployment, error) {
	app := session.Config.AppName
	if app == "" {
		app = filepath.Base(session.ProjectDir)
	}
	bucket := session.Config.Bucket
	if bucket == "" {
		bucket = app + "-deploy"
	}
	region := session.Config.Region

	archive, err := PackageProject(session.ProjectDir, app)
	if err != nil {
		session.Log("error: " + err.Error())
		return Deployment{}, err
	}
	// The bundle is a per-attempt artifact; drop it on every exit path.
	defer func() { _ = os.Remove(archive) }()

	key := filepath.Base(archive)
	upload := session.Run(ctx, "aws", "s3", "cp", archive, fmt.Sprintf("s3://%s/%s", bucket, key), "--region", region)
	if !upload.Success {
		return Deployment{}, upload.Err
	}

	create := session.Run(ctx, "aws", "deploy", "create-deployment",
		"--application-name", app,
		"--deployment-group-name", session.Config.Environment,
		"--s3-location", fmt.Sprintf("bucket=%s,key=%s,bundleType=zip", bucket, key),
		"--region", region)
	if !create.Success {
		return Deployment{}, create.Err
	}

	return Deployment{
		App: app,
		URL: fmt.Sprintf("https://%s.console.aws.amazon.com/codedeploy/home", region),
	}, nil
}
