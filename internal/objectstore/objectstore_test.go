package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// fakeS3 answers the handful of path-style S3 calls the store makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	denied  bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case len(parts) == 1 && r.Method == http.MethodPut:
		_, _ = io.Copy(io.Discard, r.Body)
		if f.denied {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		f.buckets[bucket] = true
		w.Header().Set("Location", "/"+bucket)
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(Config{
		Endpoint:  srv.URL,
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "chat-files",
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, fake
}

// TestEnsureBucketCreates verifies a missing bucket is created once.
func TestEnsureBucketCreates(t *testing.T) {
	s, fake := newFakeStore(t)
	ctx := context.Background()

	if err := s.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}
	if !fake.buckets["chat-files"] {
		t.Fatal("Expected bucket to be created")
	}
	if err := s.EnsureBucket(ctx); err != nil {
		t.Errorf("EnsureBucket on existing bucket failed: %v", err)
	}
}

// TestEnsureBucketDenied verifies a refused create is reported.
func TestEnsureBucketDenied(t *testing.T) {
	s, fake := newFakeStore(t)
	fake.denied = true

	if err := s.EnsureBucket(context.Background()); err == nil {
		t.Error("Expected error when bucket creation is denied")
	}
}

// TestUploadReturnsPresignedURL verifies the stored key and the download URL.
func TestUploadReturnsPresignedURL(t *testing.T) {
	s, fake := newFakeStore(t)

	up, err := s.Upload(context.Background(), "../photos/cat.png", []byte("meow"), "image/png")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if !strings.HasSuffix(up.FileName, "-cat.png") || len(up.FileName) != 36+len("-cat.png") {
		t.Errorf("Unexpected file name %q", up.FileName)
	}
	if got := fake.objects["/chat-files/"+up.FileName]; string(got) == "" {
		t.Errorf("Expected object body to be stored, got %q", got)
	}

	u, err := url.Parse(up.FileURL)
	if err != nil {
		t.Fatalf("Invalid file URL %q: %v", up.FileURL, err)
	}
	if u.Path != "/chat-files/"+up.FileName {
		t.Errorf("Expected path /chat-files/%s, got %s", up.FileName, u.Path)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "3600" {
		t.Errorf("Expected X-Amz-Expires=3600, got %q", got)
	}
}

// TestNewRequires verifies constructor validation.
func TestNewRequires(t *testing.T) {
	if _, err := New(Config{Endpoint: "localhost:9000"}, nil); err == nil {
		t.Error("Expected error without bucket")
	}
	if _, err := New(Config{Bucket: "b"}, nil); err == nil {
		t.Error("Expected error without endpoint")
	}
}

// TestObjectKey verifies names are sanitized and made unique.
func TestObjectKey(t *testing.T) {
	a, b := objectKey("report.pdf"), objectKey("report.pdf")
	if a == b {
		t.Error("Expected unique keys")
	}
	if !strings.HasSuffix(objectKey(`C:\tmp\x.txt`), "-x.txt") {
		t.Error("Expected windows paths to be reduced to the base name")
	}
	if !strings.HasSuffix(objectKey(""), "-file") {
		t.Error("Expected empty names to fall back to file")
	}
}
