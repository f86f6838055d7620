package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &apiError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3(fake, "bucket", "lumen")
	ctx := context.Background()

	w, err := store.Write(ctx, "uploads/ada/a.txt")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write bytes: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := fake.objects["lumen/uploads/ada/a.txt"]; !ok {
		t.Fatalf("objects=%v", fake.objects)
	}

	ok, err := store.Exists(ctx, "uploads/ada/a.txt")
	if err != nil || !ok {
		t.Fatalf("exists=%v err=%v", ok, err)
	}

	rc, err := store.Read(ctx, "uploads/ada/a.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Fatalf("data=%q", data)
	}

	paths, err := store.List(ctx, "uploads/ada")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 1 || paths[0] != "uploads/ada/a.txt" {
		t.Fatalf("paths=%v", paths)
	}

	if err := store.Delete(ctx, "uploads/ada/a.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err = store.Exists(ctx, "uploads/ada/a.txt")
	if err != nil || ok {
		t.Fatalf("exists=%v err=%v", ok, err)
	}
}

func TestS3StoreReadMissing(t *testing.T) {
	store := NewS3(newFakeS3(), "bucket", "")
	_, err := store.Read(context.Background(), "nope.txt")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v", err)
	}
}

func TestS3StoreWriteFailure(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("denied")
	store := NewS3(fake, "bucket", "")

	w, err := store.Write(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _ = w.Write([]byte("x"))
	if err := w.Close(); err == nil {
		t.Fatal("close should surface the upload error")
	}
}

func TestLocalStoreList(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	ctx := context.Background()

	for _, p := range []string{"uploads/ada/a.txt", "uploads/ada/b.txt", "uploads/bob/c.txt"} {
		w, err := store.Write(ctx, p)
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := w.Write([]byte("x")); err != nil {
			t.Fatalf("write bytes: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	paths, err := store.List(ctx, "uploads/ada")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != "uploads/ada/a.txt" {
		t.Fatalf("paths=%v", paths)
	}

	empty, err := store.List(ctx, "uploads/ghost")
	if err != nil || len(empty) != 0 {
		t.Fatalf("paths=%v err=%v", empty, err)
	}
}
