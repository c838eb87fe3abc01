// Package volume is the session volume storage used by the pipelines.
// Volumes are addressed only by name.
package volume

import (
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"wasp/internal/models"
	"wasp/pkg/colortable"
	"wasp/pkg/logging"
)

// ErrNotFound is returned for a name with no volume behind it.
var ErrNotFound = errors.New("volume not found")

// Store holds named volumes. Implementations hand out copies, so a volume
// read by the worker never shares pixel storage with anything else.
type Store interface {
	// Read returns a copy of the named volume
	Read(name string) (*models.Volume, error)

	// Write stores vol under vol.Name, replacing any previous volume
	Write(vol *models.Volume) error

	// Create allocates and stores an empty volume shaped like like
	Create(name string, like *models.Volume, labelMap bool) (*models.Volume, error)

	// Exists reports whether name is in the store
	Exists(name string) bool

	// Names lists stored volumes in sorted order
	Names() []string

	// AttachColorTable sets the display color table of a volume
	AttachColorTable(name string, table *colortable.Table) error

	// ColorTable returns the color table attached to a volume
	ColorTable(name string) (*colortable.Table, bool)
}

// MemoryStore keeps volumes in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	volumes map[string]*models.Volume
	tables  map[string]*colortable.Table
	log     *logging.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log *logging.Logger) *MemoryStore {
	if log == nil {
		log = logging.Nop()
	}
	return &MemoryStore{
		volumes: make(map[string]*models.Volume),
		tables:  make(map[string]*colortable.Table),
		log:     log,
	}
}

func (s *MemoryStore) Read(name string) (*models.Volume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return v.Clone(), nil
}

func (s *MemoryStore) Write(vol *models.Volume) error {
	if vol.Name == "" {
		return errors.New("cannot store a volume without a name")
	}
	if err := vol.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.volumes[vol.Name] = vol.Clone()
	s.mu.Unlock()

	s.log.Debug("store", "volume written", map[string]interface{}{
		"name":     vol.Name,
		"voxels":   humanize.Comma(int64(vol.NumVoxels())),
		"size":     humanize.Bytes(uint64(8 * vol.NumVoxels())),
		"labelmap": vol.LabelMap,
	})
	return nil
}

func (s *MemoryStore) Create(name string, like *models.Volume, labelMap bool) (*models.Volume, error) {
	v := like.WithGeometry(name, labelMap)
	if err := s.Write(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *MemoryStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.volumes[name]
	return ok
}

func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.volumes))
	for n := range s.volumes {
		names = append(names, n)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (s *MemoryStore) AttachColorTable(name string, table *colortable.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.volumes[name]; !ok {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	s.tables[name] = table
	return nil
}

func (s *MemoryStore) ColorTable(name string) (*colortable.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	return t, ok
}
