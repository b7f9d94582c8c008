package s3_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jonwraymond/memocache/backend/s3"
	"github.com/jonwraymond/memocache/cache"
	"github.com/jonwraymond/memocache/internal/backendtest"
)

// fakeS3 is an in-memory bucket store. List pages hold at most pageSize keys.
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	pageSize int
	err      error
	lists    int
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{buckets: make(map[string]map[string][]byte), pageSize: 2}
	for _, b := range buckets {
		f.buckets[b] = make(map[string][]byte)
	}
	return f
}

func (f *fakeS3) bucket(name *string) (map[string][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	objs, ok := f.buckets[aws.ToString(name)]
	if !ok {
		return nil, &types.NoSuchBucket{Message: name}
	}
	return objs, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	data, ok := objs[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	objs[aws.ToString(in.Key)] = data
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	delete(objs, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	objs, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	var keys []string
	for k := range objs {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+f.pageSize, len(keys))
	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(objs[k])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *awss3.HeadBucketInput, _ ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.bucket(in.Bucket); err != nil {
		return nil, err
	}
	return &awss3.HeadBucketOutput{}, nil
}

func (f *fakeS3) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

var _ s3.API = (*fakeS3)(nil)

func name(i int) string {
	return fmt.Sprintf("%064x", i) + cache.RecordExt
}

func TestBackend_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) cache.Backend {
		b, err := s3.NewWithAPI(newFakeS3("memo"), s3.Config{Location: "memo/nb"})
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		loc, bucket, prefix string
	}{
		{"memo", "memo", ""},
		{"memo/nb", "memo", "nb"},
		{"memo/team/nb/", "memo", "team/nb/"},
		{"s3://memo/nb", "memo", "nb"},
		{"", "", ""},
	}
	for _, tt := range tests {
		bucket, prefix := s3.ParseLocation(tt.loc)
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseLocation(%q) = %q, %q; want %q, %q", tt.loc, bucket, prefix, tt.bucket, tt.prefix)
		}
	}
}

func TestNewWithAPI_Config(t *testing.T) {
	tests := []struct {
		name       string
		cfg        s3.Config
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"location", s3.Config{Location: "memo/team/nb"}, "memo", "team/nb/", false},
		{"bucket only", s3.Config{Bucket: "memo"}, "memo", "", false},
		{"override prefix", s3.Config{Location: "memo/a", Prefix: "/b/"}, "memo", "b/", false},
		{"no bucket", s3.Config{}, "", "", true},
		{"half credentials", s3.Config{Bucket: "memo", AccessKeyID: "AK"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := s3.NewWithAPI(newFakeS3(), tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, cache.ErrInvalidConfig) {
					t.Errorf("NewWithAPI() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewWithAPI() error = %v", err)
			}
			if b.Bucket() != tt.wantBucket || b.Prefix() != tt.wantPrefix {
				t.Errorf("bucket, prefix = %q, %q; want %q, %q", b.Bucket(), b.Prefix(), tt.wantBucket, tt.wantPrefix)
			}
		})
	}

	if _, err := s3.NewWithAPI(nil, s3.Config{Bucket: "memo"}); !errors.Is(err, cache.ErrNilStore) {
		t.Errorf("NewWithAPI(nil) error = %v, want ErrNilStore", err)
	}
}

func TestBackend_ListPaging(t *testing.T) {
	fake := newFakeS3("memo")
	b, _ := s3.NewWithAPI(fake, s3.Config{Location: "memo/nb"})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Write(ctx, name(i), []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	fake.buckets["memo"]["nb/nested/"+name(9)] = []byte("x")
	fake.buckets["memo"]["other/"+name(8)] = []byte("x")

	names, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 5 {
		t.Errorf("List() = %v, want the 5 direct records", names)
	}
	if fake.lists < 3 {
		t.Errorf("ListObjectsV2 called %d times, want paging", fake.lists)
	}
}

func TestBackend_Ping(t *testing.T) {
	fake := newFakeS3("memo")
	ok, _ := s3.NewWithAPI(fake, s3.Config{Bucket: "memo"})
	missing, _ := s3.NewWithAPI(fake, s3.Config{Bucket: "gone"})

	if err := ok.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if err := missing.Ping(context.Background()); err == nil {
		t.Error("Ping() of a missing bucket should fail")
	}
}

func TestBackend_TransportError(t *testing.T) {
	fake := newFakeS3("memo")
	b, _ := s3.NewWithAPI(fake, s3.Config{Bucket: "memo"})
	boom := errors.New("connection reset")
	fake.fail(boom)

	_, err := b.Read(context.Background(), name(1))
	if !errors.Is(err, boom) || errors.Is(err, cache.ErrRecordNotFound) {
		t.Errorf("Read() error = %v, want the transport error", err)
	}
}

func TestBackend_DegradesController(t *testing.T) {
	fake := newFakeS3("memo")
	b, _ := s3.NewWithAPI(fake, s3.Config{Bucket: "memo"})
	ctrl, err := cache.New(cache.Config{Name: "s3", Mode: cache.ModePersistent, Backend: "s3"}, cache.WithBackend(b))
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	fake.fail(errors.New("service unavailable"))

	ns := cache.Namespace{"x": 2}
	_, err = ctrl.Run(context.Background(), cache.Block{Code: "y = x + 1", Inputs: ns.Select("x"), Outputs: []string{"y"}}, ns,
		func(_ context.Context, ns cache.Namespace) error {
			ns["y"] = ns["x"].(int) + 1
			return nil
		})
	if err != nil {
		t.Fatalf("Run() error = %v, storage failures must not abort the block", err)
	}
	if ns["y"] != 3 {
		t.Errorf("y = %v, want 3", ns["y"])
	}
	if info := ctrl.Info(); info.Degradations != 1 {
		t.Errorf("Degradations = %d, want 1", info.Degradations)
	}
}
