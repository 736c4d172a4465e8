// Package s3 archives processed rasters of completed runs to an S3 bucket.
package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

// ObjectPutter is the subset of the S3 API the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ManifestName is the object written last for each archived run.
const ManifestName = "run.json"

// NewClient builds an S3 client from the default AWS credential chain.
func NewClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Archiver copies a run's outputs to <prefix>/<date>/<file> and then writes
// the run record as <prefix>/<date>/run.json. It implements pipeline.RunHook.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

func NewArchiver(client ObjectPutter, bucket, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

func (a *Archiver) Name() string { return "s3" }

// Key returns the object key of file for date.
func (a *Archiver) Key(date domain.Date, file string) string {
	return path.Join(a.prefix, date.String(), file)
}

func (a *Archiver) RunCompleted(ctx context.Context, rec domain.RunRecord) error {
	layers := make([]domain.Layer, 0, len(rec.Outputs))
	for l := range rec.Outputs {
		layers = append(layers, l)
	}
	slices.Sort(layers)

	for _, l := range layers {
		if err := a.putFile(ctx, rec.Date, rec.Outputs[l]); err != nil {
			return err
		}
	}

	manifest, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run manifest: %w", err)
	}
	key := a.Key(rec.Date, ManifestName)
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(string(manifest)),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}

	a.logger.Info("run archived", "date", rec.Date, "bucket", a.bucket, "objects", len(layers)+1)
	return nil
}

func (a *Archiver) putFile(ctx context.Context, date domain.Date, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("archive %s: %w", file, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("archive %s: %w", file, err)
	}

	key := a.Key(date, filepath.Base(file))
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(file)),
	}); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".nc":
		return "application/x-netcdf"
	default:
		return "application/octet-stream"
	}
}
