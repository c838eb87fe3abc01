package volume

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"wasp/internal/models"
	"wasp/pkg/colortable"
	"wasp/pkg/logging"
)

const (
	volumeExt = ".nrrd"
	tableExt  = ".ctbl"
)

// DirStore persists each volume as <name>.nrrd in a directory, with an
// optional <name>.ctbl color table next to it.
type DirStore struct {
	dir      string
	compress bool
	log      *logging.Logger

	mu sync.Mutex
}

// NewDirStore opens (creating if needed) a directory-backed store. With
// compress set, volumes are written gzip encoded.
func NewDirStore(dir string, compress bool, log *logging.Logger) (*DirStore, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating store directory %s", dir)
	}
	return &DirStore{dir: dir, compress: compress, log: log}, nil
}

// Dir returns the backing directory.
func (s *DirStore) Dir() string {
	return s.dir
}

func (s *DirStore) path(name, ext string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Errorf("invalid volume name %q", name)
	}
	return filepath.Join(s.dir, name+ext), nil
}

func (s *DirStore) Read(name string) (*models.Volume, error) {
	path, err := s.path(name, volumeExt)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening volume %q", name)
	}
	defer f.Close()

	vol, err := ReadNRRD(f, name)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding volume %q", name)
	}
	return vol, nil
}

func (s *DirStore) Write(vol *models.Volume) error {
	path, err := s.path(vol.Name, volumeExt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".write-*")
	if err != nil {
		return errors.Wrap(err, "creating temporary volume file")
	}
	defer os.Remove(tmp.Name())

	if err := WriteNRRD(tmp, vol, s.compress); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encoding volume %q", vol.Name)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "storing volume %q", vol.Name)
	}

	fields := map[string]interface{}{"name": vol.Name, "path": path}
	if info, err := os.Stat(path); err == nil {
		fields["size"] = humanize.Bytes(uint64(info.Size()))
	}
	s.log.Debug("store", "volume written", fields)
	return nil
}

func (s *DirStore) Create(name string, like *models.Volume, labelMap bool) (*models.Volume, error) {
	v := like.WithGeometry(name, labelMap)
	if err := s.Write(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *DirStore) Exists(name string) bool {
	path, err := s.path(name, volumeExt)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *DirStore) Names() []string {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+volumeExt))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), volumeExt))
	}
	sort.Strings(names)
	return names
}

func (s *DirStore) AttachColorTable(name string, table *colortable.Table) error {
	if !s.Exists(name) {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	path, err := s.path(name, tableExt)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating color table for %q", name)
	}
	defer f.Close()
	return table.WriteCTBL(f)
}

func (s *DirStore) ColorTable(name string) (*colortable.Table, bool) {
	path, err := s.path(name, tableExt)
	if err != nil {
		return nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	table, err := colortable.ReadCTBL(f, colortable.DefaultName)
	if err != nil {
		s.log.Warning("store", "unreadable color table", map[string]interface{}{"path": path, "error": err.Error()})
		return nil, false
	}
	return table, true
}
