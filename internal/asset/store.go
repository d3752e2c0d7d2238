// Package asset implements id-addressed audio asset persistence with an
// optional text sidecar, over any core.ObjectStore.
package asset

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/book-expert/speech-server/internal/core"
	"github.com/google/uuid"
)

const (
	// BlobExt is the extension of the audio blob key.
	BlobExt = ".wav"
	// SidecarExt is the extension of the transcript sidecar key.
	SidecarExt = ".txt"

	idLength    = 8
	maxAttempts = 16
)

var (
	// ErrNotFound is returned when no blob exists for an id.
	ErrNotFound = errors.New("asset not found")
	// ErrIDSpaceExhausted is returned when no free id could be generated.
	ErrIDSpaceExhausted = errors.New("could not generate a unique asset id")

	validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Entry is one listed asset.
type Entry struct {
	ID       string
	Filename string
	Sidecar  string
}

// Store persists blobs and sidecars under generated ids.
type Store struct {
	name    string
	objects core.ObjectStore
	newID   func() string

	mu       sync.Mutex
	reserved map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the default id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// New returns a Store named name (used in errors) over objects.
func New(name string, objects core.ObjectStore, opts ...Option) *Store {
	store := &Store{
		name:     name,
		objects:  objects,
		newID:    defaultID,
		reserved: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Name returns the store's name.
func (s *Store) Name() string {
	return s.name
}

// ValidID reports whether id has a shape this store could have generated.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Put stores blob, and sidecar when non-nil, under a fresh id.
// The blob is durable before Put returns.
func (s *Store) Put(ctx context.Context, blob []byte, sidecar *string) (string, error) {
	id, err := s.reserve(ctx)
	if err != nil {
		return "", err
	}
	defer s.release(id)

	if sidecar != nil {
		err = s.objects.Upload(ctx, id+SidecarExt, []byte(*sidecar))
		if err != nil {
			return "", fmt.Errorf("%s: failed to write sidecar for %s: %w", s.name, id, err)
		}
	}

	err = s.objects.Upload(ctx, id+BlobExt, blob)
	if err != nil {
		if sidecar != nil {
			cleanupErr := s.objects.Delete(ctx, id+SidecarExt)
			if cleanupErr != nil && !errors.Is(cleanupErr, core.ErrObjectNotFound) {
				err = errors.Join(err, fmt.Errorf("removing sidecar: %w", cleanupErr))
			}
		}

		return "", fmt.Errorf("%s: failed to write blob %s: %w", s.name, id, err)
	}

	return id, nil
}

// Get returns the blob and the sidecar, which is nil when absent.
func (s *Store) Get(ctx context.Context, id string) ([]byte, *string, error) {
	blob, err := s.Blob(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	sidecar, err := s.sidecar(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return blob, sidecar, nil
}

// Blob returns only the audio blob for id.
func (s *Store) Blob(ctx context.Context, id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%s: %w: %q", s.name, ErrNotFound, id)
	}

	blob, err := s.objects.Download(ctx, id+BlobExt)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, fmt.Errorf("%s: %w: %s", s.name, ErrNotFound, id)
		}

		return nil, fmt.Errorf("%s: failed to read blob %s: %w", s.name, id, err)
	}

	return blob, nil
}

// Delete removes the blob and any sidecar. A missing blob is ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%s: %w: %q", s.name, ErrNotFound, id)
	}

	err := s.objects.Delete(ctx, id+BlobExt)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return fmt.Errorf("%s: %w: %s", s.name, ErrNotFound, id)
		}

		return fmt.Errorf("%s: failed to delete blob %s: %w", s.name, id, err)
	}

	err = s.objects.Delete(ctx, id+SidecarExt)
	if err != nil && !errors.Is(err, core.ErrObjectNotFound) {
		return fmt.Errorf("%s: failed to delete sidecar %s: %w", s.name, id, err)
	}

	return nil
}

// List enumerates stored assets in backend order.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	keys, err := s.objects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list: %w", s.name, err)
	}

	entries := make([]Entry, 0, len(keys))

	for _, key := range keys {
		id, ok := strings.CutSuffix(key, BlobExt)
		if !ok || !ValidID(id) {
			continue
		}

		sidecar, err := s.sidecar(ctx, id)
		if err != nil {
			return nil, err
		}

		entry := Entry{ID: id, Filename: key}
		if sidecar != nil {
			entry.Sidecar = *sidecar
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *Store) sidecar(ctx context.Context, id string) (*string, error) {
	data, err := s.objects.Download(ctx, id+SidecarExt)
	if err != nil {
		if errors.Is(err, core.ErrObjectNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: failed to read sidecar %s: %w", s.name, id, err)
	}

	text := string(data)

	return &text, nil
}

// reserve picks an id that is neither in flight nor already stored.
func (s *Store) reserve(ctx context.Context) (string, error) {
	for range maxAttempts {
		id := s.newID()

		s.mu.Lock()
		_, taken := s.reserved[id]
		if !taken {
			s.reserved[id] = struct{}{}
		}
		s.mu.Unlock()

		if taken {
			continue
		}

		_, err := s.objects.Download(ctx, id+BlobExt)
		if errors.Is(err, core.ErrObjectNotFound) {
			return id, nil
		}

		s.release(id)

		if err != nil {
			return "", fmt.Errorf("%s: failed to probe id %s: %w", s.name, id, err)
		}
	}

	return "", fmt.Errorf("%s: %w", s.name, ErrIDSpaceExhausted)
}

func (s *Store) release(id string) {
	s.mu.Lock()
	delete(s.reserved, id)
	s.mu.Unlock()
}

func defaultID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}
