package steps

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/datosgobar/georef-ar-etl-sub000/internal/config"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/errhandling"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/etl"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/fsys"
	"github.com/datosgobar/georef-ar-etl-sub000/internal/logger"
)

// Copy publishes exported files to the configured destination: a local
// directory or an s3://bucket/prefix location. Without a destination it
// does nothing.
type Copy struct {
	name string

	// Destination overrides the configured destination
	Destination *config.DestinationConfig

	// NewUploader builds the S3 uploader; replaced in tests
	NewUploader func(dst config.DestinationConfig) (s3manageriface.UploaderAPI, error)
}

var _ etl.Step = (*Copy)(nil)

// NewCopy creates a copy step.
func NewCopy(name string) *Copy {
	return &Copy{name: name, NewUploader: newS3Uploader}
}

func newS3Uploader(dst config.DestinationConfig) (s3manageriface.UploaderAPI, error) {
	cfg := &aws.Config{Region: aws.String(dst.Region)}
	if dst.Endpoint != "" {
		cfg.Endpoint = aws.String(dst.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if dst.AccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(dst.AccessKey, dst.SecretKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return s3manager.NewUploader(sess), nil
}

// Name returns the step name.
func (c *Copy) Name() string { return c.name }

// ReadsInput is true: the input lists the files to copy.
func (c *Copy) ReadsInput() bool { return true }

func (c *Copy) destination(ectx *etl.Context) config.DestinationConfig {
	if c.Destination != nil {
		return *c.Destination
	}
	if ectx.Config != nil {
		return ectx.Config.Destination
	}
	return config.DestinationConfig{}
}

// Run copies every file and passes the list through.
func (c *Copy) Run(ctx context.Context, input any, ectx *etl.Context) (any, error) {
	files, ok := input.([]string)
	if !ok {
		return nil, fmt.Errorf("%s: expected file list, got %T", c.name, input)
	}
	dst := c.destination(ectx)
	if dst.Path == "" {
		logger.Debug("copy skipped, no destination", slog.String("step", c.name))
		return files, nil
	}

	var err error
	if dst.IsS3() {
		err = c.toS3(ctx, ectx, dst, files)
	} else {
		err = c.toDir(ectx, dst.Path, files)
	}
	if err != nil {
		return nil, errhandling.NewProcessError(c.name, errhandling.CodeCopyFailed, "copy to "+dst.Path+" failed", err)
	}

	logger.Info("files copied",
		slog.String("step", c.name),
		slog.String("destination", dst.Path),
		slog.Int("files", len(files)),
	)
	if ectx.Report != nil {
		ectx.Report.Info("Copied %d files to %s", len(files), dst.Path)
	}
	return files, nil
}

func (c *Copy) toDir(ectx *etl.Context, dir string, files []string) error {
	dst, err := fsys.NewOSFS(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := fsys.Copy(dst, path.Base(f), ectx.FS, f); err != nil {
			return fmt.Errorf("copy %s: %w", f, err)
		}
	}
	return nil
}

func (c *Copy) toS3(ctx context.Context, ectx *etl.Context, dst config.DestinationConfig, files []string) error {
	bucket, prefix, err := dst.S3Location()
	if err != nil {
		return err
	}
	uploader, err := c.NewUploader(dst)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := upload(ctx, uploader, ectx.FS, f, bucket, path.Join(prefix, path.Base(f))); err != nil {
			return fmt.Errorf("upload %s: %w", f, err)
		}
	}
	return nil
}

func upload(ctx context.Context, uploader s3manageriface.UploaderAPI, fs fsys.FS, name, bucket, key string) error {
	r, err := fs.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType(name)),
	})
	return err
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".geojson":
		return "application/geo+json"
	case ".csv":
		return "text/csv"
	case ".ndjson":
		return "application/x-ndjson"
	}
	return "application/octet-stream"
}
