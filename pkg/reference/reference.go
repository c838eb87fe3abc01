// Package reference holds the canonical region name to label index table
// used to keep label numbering consistent across runs.
package reference

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"wasp/internal/models"
)

// Ordering maps lower-cased region names to label indices. It may grow when
// a merge meets names it does not know; growth stays in memory until Save.
type Ordering struct {
	mu      sync.Mutex
	indices map[string]int
}

// New creates an ordering from name/index pairs.
func New(entries map[string]int) *Ordering {
	o := &Ordering{indices: make(map[string]int, len(entries))}
	for name, idx := range entries {
		o.indices[normalize(name)] = idx
	}
	return o
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Parse reads a two column table of index and name. Blank lines and lines
// starting with # are skipped. Names may contain spaces.
func Parse(r io.Reader) (*Ordering, error) {
	o := New(nil)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("reference line %d: expected index and name", line)
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "reference line %d", line)
		}
		name := normalize(strings.Join(fields[1:], " "))
		if prev, ok := o.indices[name]; ok && prev != idx {
			return nil, fmt.Errorf("reference line %d: %q listed as both %d and %d", line, name, prev, idx)
		}
		o.indices[name] = idx
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return o, nil
}

// Load parses the reference file at path.
func Load(path string) (*Ordering, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening reference file")
	}
	defer f.Close()
	o, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return o, nil
}

// Save writes the ordering to path sorted by index, replacing the file.
func (o *Ordering) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".reference-*")
	if err != nil {
		return errors.Wrap(err, "creating reference file")
	}
	defer os.Remove(tmp.Name())

	if err := o.Write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Write encodes the ordering in the format Parse reads.
func (o *Ordering) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, name := range o.Names() {
		idx, _ := o.Index(name)
		fmt.Fprintf(bw, "%d\t%s\n", idx, name)
	}
	return bw.Flush()
}

// Index returns the index of name, ignoring case.
func (o *Ordering) Index(name string) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx, ok := o.indices[normalize(name)]
	return idx, ok
}

// Names returns the known names ordered by index, then name.
func (o *Ordering) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.indices))
	for n := range o.indices {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := o.indices[names[i]], o.indices[names[j]]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

// Len returns the number of entries.
func (o *Ordering) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.indices)
}

// Max returns the largest index, or 0 for an empty ordering.
func (o *Ordering) Max() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxLocked()
}

func (o *Ordering) maxLocked() int {
	m := 0
	for _, idx := range o.indices {
		if idx > m {
			m = idx
		}
	}
	return m
}

// Remap computes the label substitution that makes dict follow the
// ordering. Names that share a source label stay together and take the
// lowest reference index among them. A label whose names are all unknown
// gets one new index after the current maximum, in alphabetical order of its
// first name, and the ordering is extended with those names. The returned
// dictionary holds the final labels keyed by the original names.
func (o *Ordering) Remap(dict models.LabelDictionary) (map[int]int, models.LabelDictionary) {
	o.mu.Lock()
	defer o.mu.Unlock()

	groups := make(map[int][]string)
	for name, label := range dict {
		groups[label] = append(groups[label], name)
	}
	labels := make([]int, 0, len(groups))
	for label, names := range groups {
		sort.Strings(names)
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return groups[labels[i]][0] < groups[labels[j]][0]
	})

	changes := make(map[int]int, len(groups))
	final := make(models.LabelDictionary, len(dict))
	var unknown []int
	for _, label := range labels {
		idx, found := 0, false
		for _, name := range groups[label] {
			if known, ok := o.indices[normalize(name)]; ok && (!found || known < idx) {
				idx, found = known, true
			}
		}
		if !found {
			unknown = append(unknown, label)
			continue
		}
		changes[label] = idx
	}
	for _, label := range unknown {
		idx := o.maxLocked() + 1
		for _, name := range groups[label] {
			o.indices[normalize(name)] = idx
		}
		changes[label] = idx
	}

	for name, label := range dict {
		final[name] = changes[label]
	}
	return changes, final
}
