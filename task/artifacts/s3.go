package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Backend-side artifact states.
const (
	StateReady     = "ready"
	StateTemporary = "temporary"
	StateDeleted   = "deleted"
)

// S3Config contains configuration for connecting to an S3-compatible store.
type S3Config struct {
	// Name is the registry name of the backend (default "remote")
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Endpoint is the server endpoint (e.g., "localhost:9000")
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required"`

	// AccessKey is the access key
	AccessKey string `json:"access_key" yaml:"access_key"`

	// SecretKey is the secret key
	SecretKey string `json:"secret_key" yaml:"secret_key"`

	// Bucket is the bucket name for storing artifacts
	Bucket string `json:"bucket" yaml:"bucket" validate:"required"`

	// Prefix is an optional prefix for all keys
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// UseSSL determines whether to use HTTPS
	UseSSL bool `json:"use_ssl" yaml:"use_ssl"`

	// Region is the bucket region (default "us-east-1")
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Workspace owns temporary artifacts; required to create them
	Workspace string `json:"workspace,omitempty" yaml:"workspace,omitempty"`

	// CacheDir is where fetched bytes are cached locally
	CacheDir string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`

	// MaxRetries bounds retries of transient failures (default 3)
	MaxRetries uint64 `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Validate validates the configuration using struct tags.
func (c *S3Config) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func (c S3Config) withDefaults() S3Config {
	if c.Name == "" {
		c.Name = string(BackendRemote)
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), "iguazu-cache", c.Bucket)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c
}

// poolKey identifies one client connection.
func (c S3Config) poolKey() string {
	c = c.withDefaults()
	return strings.Join([]string{
		c.Name, c.Endpoint, c.AccessKey, c.Bucket, c.Prefix, c.Region, c.Workspace, fmt.Sprint(c.UseSSL),
	}, "|")
}

// s3Record is the metadata document stored next to each object.
type s3Record struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Workspace string    `json:"workspace,omitempty"`
	Created   time.Time `json:"created"`
	Metadata  Metadata  `json:"metadata"`
}

// S3Store implements Backend on S3-compatible object storage.
//
// Key layout under the configured prefix:
//
//	objects/<id>                      artifact bytes
//	metadata/<id>.json                state and metadata families
//	index/<path>/<filename>/<id>      name index used by Find
type S3Store struct {
	client *s3.Client
	config S3Config
}

// NewS3Store creates a new S3 store and makes sure the bucket exists.
// Most callers should go through OpenS3, which reuses clients.
func NewS3Store(ctx context.Context, config S3Config) (*S3Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid S3 configuration: %w", err)
	}
	config = config.withDefaults()

	scheme := "http"
	if config.UseSSL {
		scheme = "https"
	}

	client := s3.New(s3.Options{
		Region:       config.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		BaseEndpoint: aws.String(scheme + "://" + config.Endpoint),
		UsePathStyle: true,
	})

	store := &S3Store{client: client, config: config}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.config.Bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return s.classify("check bucket", err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.config.Bucket)}
	if s.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.config.Region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return s.classify("create bucket", err)
	}
	return nil
}

// Name implements Backend.
func (s *S3Store) Name() string {
	return s.config.Name
}

// Kind implements Backend.
func (s *S3Store) Kind() BackendKind {
	return BackendRemote
}

// Config returns the effective configuration.
func (s *S3Store) Config() S3Config {
	return s.config
}

// Open returns a bare handle that will be written to this store.
func (s *S3Store) Open(filename, path string, temporary bool) *Artifact {
	return New(s, filename, path, temporary)
}

// LocalPath implements Backend.
func (s *S3Store) LocalPath(a *Artifact) string {
	return filepath.Join(s.config.CacheDir, filepath.FromSlash(a.Path), a.Filename)
}

// Find implements Backend.
func (s *S3Store) Find(ctx context.Context, filename, path string, filter Metadata) (*Artifact, error) {
	prefix := s.key("index", path, filename) + "/"

	type candidate struct {
		id       string
		modified time.Time
	}
	var candidates []candidate

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.classify("find", err)
		}
		for _, object := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(object.Key), prefix)
			if id == "" || strings.Contains(id, "/") {
				continue
			}
			candidates = append(candidates, candidate{id: id, modified: aws.ToTime(object.LastModified)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].modified.After(candidates[j].modified)
	})

	for _, c := range candidates {
		record, err := s.readRecord(ctx, c.id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if !visibleTo(record, s.config.Workspace) || !record.Metadata.Matches(filter) {
			continue
		}
		return s.fromRecord(record, filename, path), nil
	}
	return nil, nil
}

// Retrieve implements Backend.
func (s *S3Store) Retrieve(ctx context.Context, id string) (*Artifact, error) {
	record, err := s.readRecord(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !visibleTo(record, s.config.Workspace) {
		return nil, nil
	}
	base := record.Metadata[BaseFamily]
	return s.fromRecord(record, base.String("filename"), base.String("path")), nil
}

// FetchData implements Backend.
func (s *S3Store) FetchData(ctx context.Context, a *Artifact, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	return s.retry(ctx, "fetch data", func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.key("objects", a.ID)),
		})
		if err != nil {
			return err
		}
		defer func() { _ = out.Body.Close() }()
		return writeAtomically(dest, out.Body)
	})
}

// FetchMetadata implements Backend.
func (s *S3Store) FetchMetadata(ctx context.Context, a *Artifact) (Metadata, error) {
	record, err := s.readRecord(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return record.Metadata, nil
}

// UploadData implements Backend.
func (s *S3Store) UploadData(ctx context.Context, a *Artifact, src string) (string, Family, error) {
	if a.Temporary && s.config.Workspace == "" {
		return "", nil, rejected(s.Name(), "upload data", errors.New("temporary artifacts require a workspace"))
	}

	size, sum, err := FileChecksum(src)
	if err != nil {
		return "", nil, rejected(s.Name(), "upload data", err)
	}

	id := uuid.NewString()
	err = s.retry(ctx, "upload data", func() error {
		file, err := os.Open(src)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer func() { _ = file.Close() }()

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.config.Bucket),
			Key:           aws.String(s.key("objects", id)),
			Body:          file,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String("application/octet-stream"),
		})
		return err
	})
	if err != nil {
		return "", nil, err
	}

	state := StateReady
	if a.Temporary {
		state = StateTemporary
	}
	base := Family{
		"id":       id,
		"filename": a.Filename,
		"path":     a.Path,
		"size":     size,
		"checksum": sum,
	}
	record := &s3Record{
		ID:        id,
		State:     state,
		Workspace: s.config.Workspace,
		Created:   time.Now().UTC(),
		Metadata:  Metadata{BaseFamily: base},
	}
	if err := s.writeRecord(ctx, record); err != nil {
		return "", nil, err
	}
	if err := s.putIndex(ctx, a.Path, a.Filename, id); err != nil {
		return "", nil, err
	}

	return id, base.Clone(), nil
}

// UpdateMetadata implements Backend.
func (s *S3Store) UpdateMetadata(ctx context.Context, a *Artifact, m Metadata) (Metadata, error) {
	record, err := s.readRecord(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if !visibleTo(record, s.config.Workspace) {
		return nil, rejected(s.Name(), "update metadata", fmt.Errorf("artifact %s is %s", a.ID, record.State))
	}

	oldBase := record.Metadata[BaseFamily].Clone()
	update := m.forUpload()
	record.Metadata.Merge(update)

	newBase := record.Metadata[BaseFamily]
	if newBase.String("path") != oldBase.String("path") || newBase.String("filename") != oldBase.String("filename") {
		if err := s.putIndex(ctx, newBase.String("path"), newBase.String("filename"), a.ID); err != nil {
			return nil, err
		}
		if err := s.deleteKey(ctx, s.key("index", oldBase.String("path"), oldBase.String("filename"), a.ID)); err != nil {
			return nil, err
		}
	}

	if err := s.writeRecord(ctx, record); err != nil {
		return nil, err
	}
	return record.Metadata.Clone(), nil
}

// Delete implements Backend. The record is kept with state deleted.
func (s *S3Store) Delete(ctx context.Context, a *Artifact) error {
	record, err := s.readRecord(ctx, a.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	base := record.Metadata[BaseFamily]
	if err := s.deleteKey(ctx, s.key("index", base.String("path"), base.String("filename"), a.ID)); err != nil {
		return err
	}
	if err := s.deleteKey(ctx, s.key("objects", a.ID)); err != nil {
		return err
	}

	record.State = StateDeleted
	return s.writeRecord(ctx, record)
}

// Close cleans up resources (no-op for S3).
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) fromRecord(record *s3Record, filename, path string) *Artifact {
	a := New(s, filename, path, record.State == StateTemporary)
	a.ID = record.ID
	a.Metadata = record.Metadata.Clone()
	a.loaded = true
	return a
}

func (s *S3Store) readRecord(ctx context.Context, id string) (*s3Record, error) {
	var data []byte
	err := s.retry(ctx, "fetch metadata", func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.key("metadata", id+".json")),
		})
		if err != nil {
			return err
		}
		defer func() { _ = out.Body.Close() }()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	var record s3Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, rejected(s.Name(), "fetch metadata", fmt.Errorf("malformed metadata document: %w", err))
	}
	if record.Metadata == nil {
		record.Metadata = Metadata{}
	}
	return &record, nil
}

func (s *S3Store) writeRecord(ctx context.Context, record *s3Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return rejected(s.Name(), "update metadata", fmt.Errorf("failed to encode metadata: %w", err))
	}
	return s.retry(ctx, "update metadata", func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.config.Bucket),
			Key:         aws.String(s.key("metadata", record.ID+".json")),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		return err
	})
}

func (s *S3Store) putIndex(ctx context.Context, path, filename, id string) error {
	return s.retry(ctx, "index", func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(s.key("index", path, filename, id)),
			Body:   bytes.NewReader(nil),
		})
		return err
	})
}

func (s *S3Store) deleteKey(ctx context.Context, key string) error {
	return s.retry(ctx, "delete", func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil && isNotFound(err) {
			return nil
		}
		return err
	})
}

// key joins non-empty parts under the configured prefix.
func (s *S3Store) key(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return s.config.Prefix + strings.Join(clean, "/")
}

// retry runs op with exponential backoff. Rejections are not retried.
func (s *S3Store) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.config.MaxRetries), ctx)
	err := backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isNotFound(err) {
			return backoff.Permanent(ErrNotFound)
		}
		classified := s.classify(op, err)
		if errors.Is(classified, ErrBackendRejected) {
			return backoff.Permanent(classified)
		}
		return classified
	}, b)
	return err
}

// classify maps SDK errors onto BackendError kinds.
func (s *S3Store) classify(op string, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code >= 500 || code == 429 {
			return unavailable(s.Name(), op, err)
		}
		return rejected(s.Name(), op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return rejected(s.Name(), op, err)
	}
	return unavailable(s.Name(), op, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

func usable(state string) bool {
	return state == StateReady || state == StateTemporary
}

// visibleTo reports whether workspace may see record. Temporary artifacts
// belong to the workspace that created them.
func visibleTo(record *s3Record, workspace string) bool {
	if !usable(record.State) {
		return false
	}
	return record.State != StateTemporary || record.Workspace == workspace
}
