package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func seedBlob(t *testing.T, store BlobStore, fileName, contentType, content string) *BlobMetadata {
	t.Helper()
	meta := BlobMetadata{FileName: fileName, ContentType: contentType}
	result, err := store.Upload(context.Background(), meta, strings.NewReader(content))
	if err != nil {
		t.Fatalf("seedBlob: %v", err)
	}
	return result
}

// fakeS3 stores objects in a map keyed by bucket/key.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = data
	f.meta[k] = in.Metadata
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	data, ok := f.objects[k]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("image/png"),
		Metadata:      f.meta[k],
		LastModified:  aws.Time(time.Now()),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		size        int64
		want        error
	}{
		{"png", "front.png", "image/png", 1024, nil},
		{"jpeg upper ext", "FRONT.JPG", "image/jpeg", 1024, nil},
		{"pdf", "card.pdf", "application/pdf", 1024, nil},
		{"content type params", "card.png", "image/png; charset=binary", 10, nil},
		{"missing name", "", "image/png", 10, ErrMissingFileName},
		{"bad extension", "card.gif", "image/png", 10, ErrInvalidContentType},
		{"bad mime", "card.png", "text/plain", 10, ErrInvalidContentType},
		{"renamed exe", "card.pdf", "application/x-msdownload", 10, ErrInvalidContentType},
		{"too large", "card.png", "image/png", MaxFileSize + 1, ErrFileTooLarge},
		{"at limit", "card.png", "image/png", MaxFileSize, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Validate(tt.fileName, tt.contentType, tt.size); !errors.Is(got, tt.want) {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateCount(t *testing.T) {
	if err := ValidateCount(MaxFiles); err != nil {
		t.Errorf("expected %d files to be allowed, got %v", MaxFiles, err)
	}
	if err := ValidateCount(MaxFiles + 1); !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("expected ErrTooManyFiles, got %v", err)
	}
}

func TestNewID_KeepsExtension(t *testing.T) {
	id := NewID("Card Front.PNG")
	if !strings.HasPrefix(id, "insurance-") {
		t.Errorf("expected insurance- prefix, got %s", id)
	}
	if !strings.HasSuffix(id, ".png") {
		t.Errorf("expected .png suffix, got %s", id)
	}
	if strings.Contains(id, " ") {
		t.Errorf("expected no client-supplied name in id, got %s", id)
	}
	if NewID("a.png") == NewID("a.png") {
		t.Error("expected distinct ids")
	}
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

func TestInMemoryBlobStore_Upload(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "fake png bytes"

	result, err := store.Upload(context.Background(), BlobMetadata{FileName: "front.png", ContentType: "image/png"}, strings.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID == "" {
		t.Error("expected non-empty ID")
	}
	if result.Size != int64(len(content)) {
		t.Errorf("expected size=%d, got %d", len(content), result.Size)
	}
	if result.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 blob, got %d", store.Len())
	}
}

func TestInMemoryBlobStore_Download(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "back.jpg", "image/jpeg", "jpeg bytes")

	rc, meta, err := store.Download(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "jpeg bytes" {
		t.Errorf("expected content 'jpeg bytes', got %q", string(data))
	}
	if meta.FileName != "back.jpg" {
		t.Errorf("expected file name back.jpg, got %s", meta.FileName)
	}
}

func TestInMemoryBlobStore_DownloadNotFound(t *testing.T) {
	store := NewInMemoryBlobStore()
	_, _, err := store.Download(context.Background(), "nonexistent")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestInMemoryBlobStore_Delete(t *testing.T) {
	store := NewInMemoryBlobStore()
	uploaded := seedBlob(t, store, "card.pdf", "application/pdf", "%PDF")

	if err := store.Delete(context.Background(), uploaded.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(context.Background(), uploaded.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestInMemoryBlobStore_Upload_FileTooLarge(t *testing.T) {
	store := NewInMemoryBlobStore()
	largeContent := make([]byte, MaxFileSize+1)

	_, err := store.Upload(context.Background(), BlobMetadata{FileName: "huge.pdf", ContentType: "application/pdf"}, bytes.NewReader(largeContent))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("expected nothing stored")
	}
}

func TestInMemoryBlobStore_Upload_MissingFileName(t *testing.T) {
	store := NewInMemoryBlobStore()
	_, err := store.Upload(context.Background(), BlobMetadata{ContentType: "image/png"}, strings.NewReader("data"))
	if !errors.Is(err, ErrMissingFileName) {
		t.Errorf("expected ErrMissingFileName, got %v", err)
	}
}

func TestInMemoryBlobStore_SHA256Hash(t *testing.T) {
	store := NewInMemoryBlobStore()
	content := "compute-my-hash"

	uploaded := seedBlob(t, store, "hash.png", "image/png", content)

	expected := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	if uploaded.Hash != expected {
		t.Errorf("expected hash=%s, got %s", expected, uploaded.Hash)
	}
}

func TestInMemoryBlobStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryBlobStore()
	var wg sync.WaitGroup
	const goroutines = 50

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			meta := BlobMetadata{FileName: fmt.Sprintf("file-%d.png", n), ContentType: "image/png"}
			result, err := store.Upload(context.Background(), meta, strings.NewReader(fmt.Sprintf("content-%d", n)))
			if err != nil {
				t.Errorf("upload goroutine %d: %v", n, err)
				return
			}
			rc, _, err := store.Download(context.Background(), result.ID)
			if err != nil {
				t.Errorf("download goroutine %d: %v", n, err)
				return
			}
			rc.Close()
		}(i)
	}
	wg.Wait()

	if store.Len() != goroutines {
		t.Errorf("expected %d blobs, got %d", goroutines, store.Len())
	}
}

// ---------------------------------------------------------------------------
// Disk store
// ---------------------------------------------------------------------------

func TestDiskBlobStore_RoundTrip(t *testing.T) {
	store, err := NewDiskBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskBlobStore: %v", err)
	}
	uploaded := seedBlob(t, store, "front.png", "image/png", "disk bytes")

	rc, meta, err := store.Download(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "disk bytes" {
		t.Errorf("expected 'disk bytes', got %q", string(data))
	}
	if meta.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", meta.ContentType)
	}

	if err := store.Delete(context.Background(), uploaded.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Download(context.Background(), uploaded.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}
}

func TestDiskBlobStore_RejectsTraversal(t *testing.T) {
	store, err := NewDiskBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskBlobStore: %v", err)
	}
	for _, id := range []string{"../etc/passwd", "a/b.png", `..\x.png`, ""} {
		if _, _, err := store.Download(context.Background(), id); !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("Download(%q): expected ErrBlobNotFound, got %v", id, err)
		}
	}
}

// ---------------------------------------------------------------------------
// S3 store
// ---------------------------------------------------------------------------

func TestS3BlobStore_UploadDownloadDelete(t *testing.T) {
	fake := newFakeS3()
	store := &S3BlobStore{client: fake, bucket: "cards", prefix: "insurance/"}

	uploaded := seedBlob(t, store, "front.png", "image/png", "s3 bytes")

	if len(fake.puts) != 1 {
		t.Fatalf("expected 1 put, got %d", len(fake.puts))
	}
	put := fake.puts[0]
	if got := aws.ToString(put.Key); got != "insurance/"+uploaded.ID {
		t.Errorf("expected key insurance/%s, got %s", uploaded.ID, got)
	}
	if put.ACL != types.ObjectCannedACLPrivate {
		t.Errorf("expected private ACL, got %s", put.ACL)
	}

	rc, meta, err := store.Download(context.Background(), uploaded.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "s3 bytes" {
		t.Errorf("expected 's3 bytes', got %q", string(data))
	}
	if meta.FileName != "front.png" || meta.Hash != uploaded.Hash {
		t.Errorf("unexpected metadata %+v", meta)
	}

	if err := store.Delete(context.Background(), uploaded.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Download(context.Background(), uploaded.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}
