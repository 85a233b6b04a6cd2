// Package staging manages the per-request directories that hold uploaded
// screenshots while they are merged.
//
// Each request gets a fresh token and a directory named after it. A lock
// marker inside the directory, backed by an in-process lock store, keeps a
// colliding token from interleaving writes with a live request. Files are
// named by their 1-based arrival index, so the order of the parts as
// received is the order the composition engine sees.
package staging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/uma-tools/receipt-merger/internal/apierror"
	"github.com/uma-tools/receipt-merger/internal/storage"
)

const (
	// AcceptedMIMEType is the only content type accepted for uploaded parts.
	AcceptedMIMEType = "image/png"

	// LockFileName is the lock marker written into every staging directory.
	LockFileName = ".lock"
)

// Area allocates staging requests under a root directory.
type Area struct {
	root     string
	newToken func() string
	locks    *storage.LockStore
}

// Option configures an Area.
type Option func(*Area)

// WithTokenGenerator replaces the UUIDv7 token generator.
func WithTokenGenerator(gen func() string) Option {
	return func(a *Area) {
		a.newToken = gen
	}
}

// WithLockStore shares a lock store between areas.
func WithLockStore(locks *storage.LockStore) Option {
	return func(a *Area) {
		a.locks = locks
	}
}

// New creates the root directory if needed and returns an Area over it.
func New(root string, opts ...Option) (*Area, error) {
	slog.Info("Creating temp upload dir", "dir", root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp upload dir: %w", err)
	}

	a := &Area{
		root: root,
		newToken: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
		locks: storage.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Root is the directory under which requests are staged.
func (a *Area) Root() string {
	return a.root
}

// Active is the number of requests currently staged.
func (a *Area) Active() int {
	return a.locks.Len()
}

// Request is one staged upload. It is not safe for concurrent use; parts
// must be persisted one after the other in arrival order.
type Request struct {
	Token string
	Dir   string

	area   *Area
	files  []string
	closed bool
}

// Open allocates a new staging request. A token whose lock marker already
// exists is rejected before anything is written.
func (a *Area) Open() (*Request, error) {
	token := a.newToken()
	dir := filepath.Join(a.root, token)
	lockPath := filepath.Join(dir, LockFileName)

	if !a.locks.TryLock(token) {
		slog.Error("Directory is locked", "dir", dir)
		return nil, apierror.NewImageUploadError("Failed to upload image", fmt.Errorf("token %s already in use", token))
	}

	if _, err := os.Stat(lockPath); err == nil {
		a.locks.Unlock(token)
		slog.Error("Directory is locked", "dir", dir)
		return nil, apierror.NewImageUploadError("Failed to upload image", fmt.Errorf("lock marker present at %s", lockPath))
	} else if !errors.Is(err, os.ErrNotExist) {
		a.locks.Unlock(token)
		return nil, apierror.NewIoError(fmt.Errorf("failed to check lock marker: %w", err))
	}

	req := &Request{Token: token, Dir: dir, area: a}

	if err := os.MkdirAll(dir, 0755); err != nil {
		a.locks.Unlock(token)
		return nil, apierror.NewIoError(fmt.Errorf("failed to create staging dir: %w", err))
	}
	if err := os.WriteFile(lockPath, nil, 0644); err != nil {
		_ = req.Close()
		return nil, apierror.NewIoError(fmt.Errorf("failed to write lock marker: %w", err))
	}

	slog.Debug("Staging request opened", "request_id", token, "dir", dir)
	return req, nil
}

// Persist validates contentType and writes src as the next numbered file.
func (r *Request) Persist(contentType string, src io.Reader) (string, error) {
	if r.closed {
		return "", apierror.NewImageUploadError("Failed to upload image", errors.New("staging request already closed"))
	}
	if !r.area.locks.Held(r.Token) {
		return "", apierror.NewImageUploadError("Failed to upload image", fmt.Errorf("lock for %s is no longer held", r.Token))
	}
	if contentType == "" {
		return "", apierror.NewInvalidParameter("Invalid image", "Cannot identify file content type")
	}
	if contentType != AcceptedMIMEType {
		return "", apierror.Errorf("Unsupported file type", "File type %s is not supported", contentType)
	}

	filePath := filepath.Join(r.Dir, strconv.Itoa(len(r.files)+1)+".png")

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", apierror.NewImageUploadError("Failed to upload image", err)
	}
	r.files = append(r.files, filePath)

	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", apierror.NewImageUploadError("Failed to upload image", err)
	}
	if err := f.Close(); err != nil {
		return "", apierror.NewImageUploadError("Failed to upload image", err)
	}

	slog.Info("Image uploaded", "request_id", r.Token, "path", filePath)
	return filePath, nil
}

// Count is the number of files persisted so far.
func (r *Request) Count() int {
	return len(r.files)
}

// Files returns the persisted paths in arrival order.
func (r *Request) Files() []string {
	out := make([]string, len(r.files))
	copy(out, r.files)
	return out
}

// Close deletes every entry in the directory, then the directory, then
// releases the token. Calling Close again is a no-op.
func (r *Request) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	defer r.area.locks.Unlock(r.Token)

	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return apierror.NewIoError(fmt.Errorf("failed to list staging dir: %w", err))
	}

	var errs []error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(r.Dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(r.Dir); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return apierror.NewIoError(fmt.Errorf("failed to clean staging dir %s: %w", r.Dir, errors.Join(errs...)))
	}

	slog.Debug("Staging request cleaned", "request_id", r.Token)
	return nil
}

// Stage opens a request, runs fn and always cleans up before returning.
// An error from fn takes precedence over a cleanup error.
func (a *Area) Stage(fn func(*Request) error) (err error) {
	req, err := a.Open()
	if err != nil {
		return err
	}

	defer func() {
		if cErr := req.Close(); cErr != nil {
			if err == nil {
				err = cErr
			} else {
				slog.Error("Cleanup after failed request also failed", "request_id", req.Token, "err", cErr)
			}
		}
	}()

	return fn(req)
}
