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
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type stubS3 struct {
	objects map[string][]byte
}

func newStubS3() *stubS3 {
	return &stubS3{objects: make(map[string][]byte)}
}

func (s *stubS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	s.objects[*params.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (s *stubS3) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source := *params.CopySource
	if idx := strings.Index(source, "/"); idx >= 0 {
		source = source[idx+1:]
	}
	s.objects[*params.Key] = s.objects[source]
	return &s3.CopyObjectOutput{}, nil
}

func (s *stubS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range params.Delete.Objects {
		delete(s.objects, *obj.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (s *stubS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, *params.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(s.objects[key]))),
		})
	}
	return out, nil
}

func testConnection(api s3API) *S3Connection {
	return newS3ConnectionWithAPI("conn", S3Config{
		Bucket:   "bucket",
		AdminURL: "http://unused",
	}, api)
}

func TestStageKeysAreNamespaced(t *testing.T) {
	api := newStubS3()
	conn := testConnection(api)
	ctx := context.Background()

	if err := conn.PutWithCache(ctx, "st1", "conn/orders/0/1_2_3.json.gz", []byte("data")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := api.objects["stages/st1/conn/orders/0/1_2_3.json.gz"]; !ok {
		t.Fatalf("stage files must live under the stage root, got %v", keys(api))
	}

	if err := conn.PutToTableStage(ctx, "orders", "conn/orders/0/7_value_9.gz", []byte("junk")); err != nil {
		t.Fatalf("put table stage: %v", err)
	}
	if _, ok := api.objects["tablestages/orders/conn/orders/0/7_value_9.gz"]; !ok {
		t.Fatalf("table stage files must live under the table stage root, got %v", keys(api))
	}
}

func TestListStageReturnsRelativeNames(t *testing.T) {
	api := newStubS3()
	conn := testConnection(api)
	ctx := context.Background()

	names := []string{
		"conn/orders/0/1_2_3.json.gz",
		"conn/orders/0/4_5_6.json.gz",
		"conn/orders/1/7_8_9.json.gz",
	}
	for _, name := range names {
		if err := conn.PutWithCache(ctx, "st1", name, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}

	listed, err := conn.ListStage(ctx, "st1", "conn/orders/0/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 files under the prefix, got %v", listed)
	}
	for _, name := range listed {
		if strings.HasPrefix(name, "stages/") {
			t.Fatalf("listed names must be stage relative: %s", name)
		}
	}
}

func TestPurgeStageDeletesBatch(t *testing.T) {
	api := newStubS3()
	conn := testConnection(api)
	ctx := context.Background()

	for _, name := range []string{"a/1_2_3.json.gz", "a/4_5_6.json.gz"} {
		if err := conn.PutWithCache(ctx, "st1", name, []byte("x")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := conn.PurgeStage(ctx, "st1", []string{"a/1_2_3.json.gz", "a/4_5_6.json.gz"}); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(api.objects) != 0 {
		t.Fatalf("purge must delete all named files, got %v", keys(api))
	}
}

func TestMoveToTableStageRelocates(t *testing.T) {
	api := newStubS3()
	conn := testConnection(api)
	ctx := context.Background()

	name := "conn/orders/0/1_2_3.json.gz"
	if err := conn.PutWithCache(ctx, "st1", name, []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := conn.MoveToTableStage(ctx, "orders", "st1", []string{name}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, ok := api.objects["tablestages/orders/1_2_3.json.gz"]; !ok {
		t.Fatalf("moved file missing from table stage, got %v", keys(api))
	}
	if _, ok := api.objects["stages/st1/"+name]; ok {
		t.Fatalf("moved file must leave the stage")
	}
}

func TestAdminObjectLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/objects/tables/known":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/objects/tables/known/compatible":
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/objects/tables":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	conn := newS3ConnectionWithAPI("conn", S3Config{Bucket: "bucket", AdminURL: server.URL}, newStubS3())
	ctx := context.Background()

	exists, err := conn.TableExist(ctx, "known")
	if err != nil || !exists {
		t.Fatalf("known table: exists=%v err=%v", exists, err)
	}
	exists, err = conn.TableExist(ctx, "missing")
	if err != nil || exists {
		t.Fatalf("missing table: exists=%v err=%v", exists, err)
	}
	compatible, err := conn.IsTableCompatible(ctx, "known")
	if err != nil || compatible {
		t.Fatalf("conflicting table must be incompatible: %v %v", compatible, err)
	}
	if err := conn.CreateTable(ctx, "fresh"); err != nil {
		t.Fatalf("create table: %v", err)
	}
}

func keys(api *stubS3) []string {
	out := make([]string, 0, len(api.objects))
	for key := range api.objects {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
