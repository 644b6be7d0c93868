package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

type bucketTransport struct {
	status      int
	lastMethod  string
	lastURL     string
	lastHeaders http.Header
	lastBody    []byte
}

func (t *bucketTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.lastMethod = req.Method
	t.lastURL = req.URL.String()
	t.lastHeaders = req.Header.Clone()
	if req.Body != nil {
		t.lastBody, _ = io.ReadAll(req.Body)
	}
	status := t.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(`{}`)),
		Header:     http.Header{},
	}, nil
}

func newTestBucket(t *testing.T, transport *bucketTransport) *BucketStore {
	t.Helper()
	store, err := NewBucketStore(BucketOptions{
		BaseURL:    "https://objects.example.com/storage/v1",
		Bucket:     "generated-videos",
		APIKey:     "service-key",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new bucket store: %v", err)
	}
	return store
}

func TestUploadSendsObjectWithMetadata(t *testing.T) {
	transport := &bucketTransport{}
	store := newTestBucket(t, transport)

	url, err := store.Upload(context.Background(), "videos/op-1/a.mp4", []byte("mp4"), "video/mp4", map[string]string{
		"width":  "1280",
		"height": "720",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	want := "https://objects.example.com/storage/v1/object/public/generated-videos/videos/op-1/a.mp4"
	if url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
	if transport.lastMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", transport.lastMethod)
	}
	if !strings.Contains(transport.lastURL, "/object/generated-videos/videos/op-1/a.mp4") {
		t.Fatalf("url = %s", transport.lastURL)
	}
	if got := transport.lastHeaders.Get("Authorization"); got != "Bearer service-key" {
		t.Fatalf("auth header = %q", got)
	}
	if got := transport.lastHeaders.Get("x-amz-meta-width"); got != "1280" {
		t.Fatalf("metadata header = %q, want 1280", got)
	}
	if got := transport.lastHeaders.Get("x-upsert"); got != "true" {
		t.Fatalf("upsert header = %q", got)
	}
	if !bytes.Equal(transport.lastBody, []byte("mp4")) {
		t.Fatalf("body = %q", transport.lastBody)
	}
}

func TestUploadSurfacesServerErrors(t *testing.T) {
	store := newTestBucket(t, &bucketTransport{status: http.StatusServiceUnavailable})
	if _, err := store.Upload(context.Background(), "videos/op-1/a.mp4", []byte("mp4"), "video/mp4", nil); err == nil {
		t.Fatalf("expected error on 503")
	}
}

func TestUploadRejectsTraversalKeys(t *testing.T) {
	transport := &bucketTransport{}
	store := newTestBucket(t, transport)
	if _, err := store.Upload(context.Background(), "../../etc/passwd", []byte("x"), "", nil); err == nil {
		t.Fatalf("expected traversal rejection")
	}
	if transport.lastMethod != "" {
		t.Fatalf("request was sent despite invalid key")
	}
}

func TestDeleteTreatsMissingObjectAsSuccess(t *testing.T) {
	store := newTestBucket(t, &bucketTransport{status: http.StatusNotFound})
	if err := store.Delete(context.Background(), "videos/op-1/a.mp4"); err != nil {
		t.Fatalf("delete of missing object: %v", err)
	}
}
