package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*input.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	mock := newMockS3()
	s := newS3Store(mock, "bucket", "weekplate")
	ctx := context.Background()

	if err := s.Write(ctx, "meal-plans/1/a.pdf", []byte("pdf")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := mock.objects["weekplate/meal-plans/1/a.pdf"]; !ok {
		t.Error("expected object stored under prefix")
	}

	ok, err := s.Exists(ctx, "meal-plans/1/a.pdf")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Error("expected object to exist")
	}

	data, err := s.Read(ctx, "meal-plans/1/a.pdf")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pdf" {
		t.Errorf("data = %q, want %q", data, "pdf")
	}

	if err := s.Delete(ctx, "meal-plans/1/a.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "meal-plans/1/a.pdf"); ok {
		t.Error("expected object gone after delete")
	}
	if _, err := s.Read(ctx, "meal-plans/1/a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("read err = %v, want ErrNotFound", err)
	}
}

func TestS3StoreWriteError(t *testing.T) {
	mock := newMockS3()
	mock.putErr = errors.New("connection refused")
	s := newS3Store(mock, "bucket", "")

	if err := s.Write(context.Background(), "k", []byte("x")); err == nil {
		t.Error("expected error from failing upload")
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(S3Config{}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := NewS3Store(S3Config{Bucket: "b", Region: "us-east-1", AccessKey: "k", SecretKey: "s"}); err != nil {
		t.Errorf("new s3 store: %v", err)
	}
}
