package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// ErrFileTooLarge is returned when a source exceeds the bucket's size limit.
var ErrFileTooLarge = errors.New("file exceeds maximum upload size")

// Bucket is blob storage addressed by slash-separated paths.
type Bucket interface {
	// PutFile copies the file at localURI to objectPath, calling progress as
	// bytes are written.
	PutFile(ctx context.Context, objectPath, localURI string, progress func(sent, total int64)) error
	DownloadURL(ctx context.Context, objectPath string) (string, error)
	Delete(ctx context.Context, objectPath string) error
}

const defaultChunkSize = 64 * 1024

// DirBucket stores objects in a local directory tree served under baseURL.
type DirBucket struct {
	root      string
	baseURL   string
	maxSize   int64
	chunkSize int
}

// NewDirBucket creates root if needed. maxSize <= 0 disables the size check.
func NewDirBucket(root, baseURL string, maxSize int64) (*DirBucket, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating bucket dir: %w", err)
	}
	if baseURL == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolving bucket dir: %w", err)
		}
		baseURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	}
	return &DirBucket{
		root:      root,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxSize:   maxSize,
		chunkSize: defaultChunkSize,
	}, nil
}

// Root returns the bucket directory.
func (b *DirBucket) Root() string { return b.root }

func (b *DirBucket) objectFile(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || slices.Contains(strings.Split(objectPath, "/"), "..") {
		return "", &StorageError{Code: onboarding.CodeInvalidArgument, Err: fmt.Errorf("invalid object path %q", objectPath)}
	}
	return filepath.Join(b.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// LocalPath resolves a file:// URI or plain path.
func LocalPath(localURI string) (string, error) {
	if !strings.HasPrefix(localURI, "file://") {
		return localURI, nil
	}
	u, err := url.Parse(localURI)
	if err != nil {
		return "", &StorageError{Code: onboarding.CodeInvalidArgument, Err: err}
	}
	return filepath.FromSlash(u.Path), nil
}

// PutFile copies the source in chunks to a temporary file and renames it
// into place once complete.
func (b *DirBucket) PutFile(ctx context.Context, objectPath, localURI string, progress func(sent, total int64)) error {
	dst, err := b.objectFile(objectPath)
	if err != nil {
		return err
	}
	srcPath, err := LocalPath(localURI)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	total := info.Size()
	if b.maxSize > 0 && total > b.maxSize {
		return &StorageError{Code: onboarding.CodeInvalidArgument, Err: fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, total, b.maxSize)}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating object dir: %w", err)
	}
	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating object: %w", err)
	}

	if err := b.copyChunks(ctx, out, src, total, progress); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing object: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalizing object: %w", err)
	}
	return nil
}

func (b *DirBucket) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress func(sent, total int64)) error {
	buf := make([]byte, b.chunkSize)
	var sent int64
	if progress != nil {
		progress(0, total)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("writing object: %w", err)
			}
			sent += int64(n)
			if progress != nil {
				progress(sent, total)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("reading source: %w", rerr)
		}
	}
}

// DownloadURL returns the public URL of an existing object.
func (b *DirBucket) DownloadURL(ctx context.Context, objectPath string) (string, error) {
	file, err := b.objectFile(objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &StorageError{Code: onboarding.CodeObjectNotFound, Err: err}
		}
		return "", err
	}
	return b.baseURL + "/" + strings.TrimPrefix(path.Clean("/"+objectPath), "/"), nil
}

// Delete removes an object. Missing objects are ignored.
func (b *DirBucket) Delete(ctx context.Context, objectPath string) error {
	file, err := b.objectFile(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

// DocumentPath is where a driver document is stored.
func DocumentPath(userID, docType string, at time.Time) string {
	return fmt.Sprintf("drivers/%s/documents/%s-%d.jpg", userID, docType, at.UnixMilli())
}

// PhotoPath is where a vehicle photo is stored.
func PhotoPath(userID, photoType string, at time.Time) string {
	return fmt.Sprintf("drivers/%s/vehicle-photos/%s-%d.jpg", userID, photoType, at.UnixMilli())
}

// ObjectPath picks the storage path for a file slot.
func ObjectPath(userID string, key onboarding.FileKey, at time.Time) string {
	if key.Section == onboarding.SectionPhotos {
		return PhotoPath(userID, key.Slot, at)
	}
	return DocumentPath(userID, key.Slot, at)
}

var _ Bucket = (*DirBucket)(nil)
