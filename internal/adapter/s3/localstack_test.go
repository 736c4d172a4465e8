//go:build integration

package s3_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/couchcryptid/tchi-pipeline/internal/adapter/s3"
)

func TestArchiver_LocalStack(t *testing.T) {
	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:3.8",
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").WithPort("4566").WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4566")
	require.NoError(t, err)

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
			})),
	)
	require.NoError(t, err)
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("http://" + host + ":" + port.Port())
	})

	_, err = client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String("tchi-archive")})
	require.NoError(t, err)

	rec := runRecord(t)
	a := s3.NewArchiver(client, "tchi-archive", "tchi", discard())
	require.NoError(t, a.RunCompleted(ctx, rec))

	out, err := client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String("tchi-archive"),
		Key:    aws.String(a.Key(rec.Date, "tchi.tif")),
	})
	require.NoError(t, err)
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, "raster tchi", string(body))

	list, err := client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket: aws.String("tchi-archive"),
		Prefix: aws.String("tchi/2024-06-01/"),
	})
	require.NoError(t, err)
	assert.Len(t, list.Contents, 3)
}
