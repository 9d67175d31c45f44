// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/novatechflow/stagesink/pkg/ingest"
)

const (
	stageRoot      = "stages"
	tableStageRoot = "tablestages"

	deleteBatchMax = 1000
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config describes the object store holding stages, plus the warehouse
// control-plane endpoints.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	AdminURL  string
	IngestURL string
}

// S3Connection implements Connection with staged files on S3 and DDL
// delegated to the warehouse admin API.
type S3Connection struct {
	bucket        string
	connectorName string
	api           s3API
	admin         *adminClient
	ingestURL     string
	closed        atomic.Bool
}

// NewS3Connection builds a connection for the named connector.
func NewS3Connection(ctx context.Context, connectorName string, cfg S3Config) (*S3Connection, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3 region required")
	}
	if cfg.AdminURL == "" {
		return nil, errors.New("warehouse admin url required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	if cfg.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					PartitionID:   "aws",
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newS3ConnectionWithAPI(connectorName, cfg, client), nil
}

func newS3ConnectionWithAPI(connectorName string, cfg S3Config, api s3API) *S3Connection {
	return &S3Connection{
		bucket:        cfg.Bucket,
		connectorName: connectorName,
		api:           api,
		admin:         newAdminClient(cfg.AdminURL),
		ingestURL:     cfg.IngestURL,
	}
}

func (c *S3Connection) TableExist(ctx context.Context, name string) (bool, error) {
	return c.admin.objectExists(ctx, "tables", name)
}

func (c *S3Connection) StageExist(ctx context.Context, name string) (bool, error) {
	return c.admin.objectExists(ctx, "stages", name)
}

func (c *S3Connection) PipeExist(ctx context.Context, name string) (bool, error) {
	return c.admin.objectExists(ctx, "pipes", name)
}

func (c *S3Connection) IsTableCompatible(ctx context.Context, name string) (bool, error) {
	return c.admin.objectCompatible(ctx, "tables", name, nil)
}

func (c *S3Connection) IsStageCompatible(ctx context.Context, name string) (bool, error) {
	return c.admin.objectCompatible(ctx, "stages", name, nil)
}

func (c *S3Connection) IsPipeCompatible(ctx context.Context, tableName, stageName, pipeName string) (bool, error) {
	return c.admin.objectCompatible(ctx, "pipes", pipeName, map[string]string{
		"table": tableName,
		"stage": stageName,
	})
}

func (c *S3Connection) CreateTable(ctx context.Context, name string) error {
	return c.admin.createObject(ctx, "tables", name, nil)
}

func (c *S3Connection) CreateStage(ctx context.Context, name string) error {
	return c.admin.createObject(ctx, "stages", name, nil)
}

func (c *S3Connection) CreatePipe(ctx context.Context, tableName, stageName, pipeName string) error {
	return c.admin.createObject(ctx, "pipes", pipeName, map[string]string{
		"table": tableName,
		"stage": stageName,
	})
}

func (c *S3Connection) stageKey(stageName, fileName string) string {
	return path.Join(stageRoot, stageName, fileName)
}

func (c *S3Connection) tableStageKey(tableName, fileName string) string {
	return path.Join(tableStageRoot, tableName, fileName)
}

// ListStage returns stage-relative file names under prefix.
func (c *S3Connection) ListStage(ctx context.Context, stageName, prefix string) ([]string, error) {
	keyPrefix := path.Join(stageRoot, stageName) + "/"
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(keyPrefix + prefix),
	})
	out := make([]string, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stage %s: %w", stageName, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			out = append(out, (*obj.Key)[len(keyPrefix):])
		}
	}
	return out, nil
}

// PutWithCache uploads a staged file. Overwrite of the same name is
// permitted; identical name plus content must be safe.
func (c *S3Connection) PutWithCache(ctx context.Context, stageName, fileName string, content []byte) error {
	return c.putObject(ctx, c.stageKey(stageName, fileName), content)
}

// PutToTableStage uploads a quarantine file next to the destination table.
func (c *S3Connection) PutToTableStage(ctx context.Context, tableName, fileName string, data []byte) error {
	return c.putObject(ctx, c.tableStageKey(tableName, fileName), data)
}

func (c *S3Connection) putObject(ctx context.Context, key string, body []byte) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PurgeStage batch-deletes staged files.
func (c *S3Connection) PurgeStage(ctx context.Context, stageName string, files []string) error {
	for start := 0; start < len(files); start += deleteBatchMax {
		end := start + deleteBatchMax
		if end > len(files) {
			end = len(files)
		}
		identifiers := make([]types.ObjectIdentifier, 0, end-start)
		for _, f := range files[start:end] {
			identifiers = append(identifiers, types.ObjectIdentifier{
				Key: aws.String(c.stageKey(stageName, f)),
			})
		}
		_, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("purge stage %s: %w", stageName, err)
		}
	}
	return nil
}

// MoveToTableStage relocates staged files into the table's quarantine area.
func (c *S3Connection) MoveToTableStage(ctx context.Context, tableName, stageName string, files []string) error {
	for _, f := range files {
		source := c.stageKey(stageName, f)
		_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket),
			CopySource: aws.String(c.bucket + "/" + source),
			Key:        aws.String(c.tableStageKey(tableName, path.Base(f))),
		})
		if err != nil {
			if isNoSuchKey(err) {
				continue
			}
			return fmt.Errorf("copy %s to table stage %s: %w", f, tableName, err)
		}
	}
	return c.PurgeStage(ctx, stageName, files)
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// BuildIngestService returns the ingestion client bound to one pipe.
func (c *S3Connection) BuildIngestService(stageName, pipeName string) ingest.Service {
	return ingest.NewRESTClient(c.ingestURL, pipeName)
}

func (c *S3Connection) ConnectorName() string {
	return c.connectorName
}

func (c *S3Connection) IsClosed() bool {
	return c.closed.Load()
}

func (c *S3Connection) Close() error {
	c.closed.Store(true)
	c.admin.close()
	return nil
}

var _ Connection = (*S3Connection)(nil)

// adminClient speaks the warehouse control-plane API for object DDL.
type adminClient struct {
	baseURL string
	httpc   *http.Client
}

func newAdminClient(baseURL string) *adminClient {
	return &adminClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *adminClient) objectExists(ctx context.Context, kind, name string) (bool, error) {
	resp, err := a.get(ctx, fmt.Sprintf("%s/v1/objects/%s/%s", a.baseURL, kind, name))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("describe %s %s: status %d", kind, name, resp.StatusCode)
	}
}

func (a *adminClient) objectCompatible(ctx context.Context, kind, name string, params map[string]string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/objects/%s/%s/compatible", a.baseURL, kind, name)
	sep := "?"
	for k, v := range params {
		endpoint += sep + k + "=" + v
		sep = "&"
	}
	resp, err := a.get(ctx, endpoint)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("check %s %s: status %d", kind, name, resp.StatusCode)
	}
}

func (a *adminClient) createObject(ctx context.Context, kind, name string, params map[string]string) error {
	payload := fmt.Sprintf(`{"name":%q`, name)
	for k, v := range params {
		payload += fmt.Sprintf(`,%q:%q`, k, v)
	}
	payload += "}"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/objects/%s", a.baseURL, kind), bytes.NewReader([]byte(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("create %s %s: %w", kind, name, err)
	}
	defer resp.Body.Close()
	// 409 means another worker created the object first; creation is
	// idempotent by contract.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("create %s %s: status %d", kind, name, resp.StatusCode)
}

func (a *adminClient) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return a.httpc.Do(req)
}

func (a *adminClient) close() {
	a.httpc.CloseIdleConnections()
}
