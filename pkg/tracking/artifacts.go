package tracking

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LocalRepo writes artifacts below a directory.
type LocalRepo struct {
	Root string
}

func (r *LocalRepo) LogArtifact(_ context.Context, localPath, artifactDir string) error {
	dstDir := filepath.Join(r.Root, filepath.FromSlash(artifactDir))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(filepath.Join(dstDir, filepath.Base(localPath)))
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	return dst.Close()
}

// S3PutAPI is the slice of the S3 client used for artifact upload.
type S3PutAPI interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Repo uploads artifacts to s3://Bucket/Prefix.
type S3Repo struct {
	Client S3PutAPI
	Bucket string
	Prefix string
}

func (r *S3Repo) LogArtifact(ctx context.Context, localPath, artifactDir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	key := path.Join(r.Prefix, artifactDir, filepath.Base(localPath))
	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", r.Bucket, key, err)
	}
	return nil
}

// NewS3Client builds a client from the default AWS configuration chain.
// A non-empty endpoint (MinIO and similar) switches to path-style
// addressing.
func NewS3Client(ctx context.Context, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if endpoint == "" {
		return s3.NewFromConfig(cfg), nil
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}

// HTTPRepo uploads artifacts with PUT requests below Base, the way an
// MLflow server proxies artifact storage.
type HTTPRepo struct {
	Base  *url.URL
	HTTP  *http.Client
	Creds Credentials
}

func (r *HTTPRepo) LogArtifact(ctx context.Context, localPath, artifactDir string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	u := *r.Base
	u.Path = path.Join(u.Path, artifactDir, filepath.Base(localPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), f)
	if err != nil {
		return err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	r.Creds.apply(req)

	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", u.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload %s: %s: %s", u.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// ArtifactOptions carry what the non-local repositories need.
type ArtifactOptions struct {
	TrackingURL *url.URL // server for mlflow-artifacts: URIs
	HTTP        *http.Client
	Creds       Credentials
	S3          S3PutAPI // nil builds a client on demand
	S3Endpoint  string
}

// NewArtifactRepo picks a repository by the scheme of artifactURI.
func NewArtifactRepo(ctx context.Context, artifactURI string, opts ArtifactOptions) (ArtifactRepo, error) {
	u, err := url.Parse(artifactURI)
	if err != nil {
		return nil, fmt.Errorf("parse artifact uri: %w", err)
	}
	switch u.Scheme {
	case "", "file":
		p := u.Path
		if u.Scheme == "" {
			p = artifactURI
		}
		return &LocalRepo{Root: filepath.FromSlash(p)}, nil
	case "s3":
		client := opts.S3
		if client == nil {
			c, err := NewS3Client(ctx, opts.S3Endpoint)
			if err != nil {
				return nil, err
			}
			client = c
		}
		return &S3Repo{Client: client, Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")}, nil
	case "mlflow-artifacts":
		if opts.TrackingURL == nil {
			return nil, fmt.Errorf("artifact uri %s needs an http tracking server", artifactURI)
		}
		base := *opts.TrackingURL
		base.Path = path.Join(base.Path, "/api/2.0/mlflow-artifacts/artifacts", u.Path)
		return &HTTPRepo{Base: &base, HTTP: opts.HTTP, Creds: opts.Creds}, nil
	case "http", "https":
		return &HTTPRepo{Base: u, HTTP: opts.HTTP, Creds: opts.Creds}, nil
	}
	return nil, fmt.Errorf("unsupported artifact uri scheme %q", u.Scheme)
}
