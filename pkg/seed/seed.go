// Package seed populates a device from a YAML description of its tree.
//
// Every entry goes through the lookup engine with creation or link flags,
// exactly as a dispatcher request would, so seeding exercises the same
// paths as live traffic. Applying a tree twice leaves it unchanged.
//
// Example:
//
//	entries:
//	  - path: /docs
//	    type: directory
//	  - path: /docs/readme
//	  - path: /readme
//	    link: /docs/readme
package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/libfs/internal/logger"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"gopkg.in/yaml.v3"
)

// Entry types.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)

// Entry describes one node. Type defaults to file. An entry with Link
// attaches the node at that path under Path instead of creating one.
type Entry struct {
	Path string `yaml:"path" mapstructure:"path" json:"path" validate:"required,startswith=/"`
	Type string `yaml:"type,omitempty" mapstructure:"type" json:"type,omitempty" validate:"omitempty,oneof=file directory,excluded_with=Link"`
	Link string `yaml:"link,omitempty" mapstructure:"link" json:"link,omitempty" validate:"omitempty,startswith=/"`
}

// Tree is the document form of a seed file.
type Tree struct {
	Entries []Entry `yaml:"entries" validate:"dive"`
}

// Stats counts what Apply did.
type Stats struct {
	Created  int
	Linked   int
	Existing int
}

var validate = validator.New()

// Parse decodes and validates a seed document. Unknown keys are errors.
func Parse(r io.Reader) ([]Entry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var tree Tree
	if err := dec.Decode(&tree); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := validate.Struct(&tree); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return tree.Entries, nil
}

// LoadFile reads a seed document from path.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	entries, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// Seeder applies entries to one device.
type Seeder struct {
	engine *lookup.Engine
	buf    *plb.Buffer
	dev    lookup.Device
	stats  Stats
}

// New creates a seeder for dev. opts configure the underlying engine.
func New(ops lookup.Ops, fs lookup.FSHandle, dev lookup.Device, opts ...lookup.Option) *Seeder {
	buf, _ := plb.New(plb.DefaultSize)
	return &Seeder{
		engine: lookup.NewEngine(ops, fs, buf, opts...),
		buf:    buf,
		dev:    dev,
	}
}

// Apply creates every entry in order. Missing ancestors are created as
// directories; entries that already exist with the expected type or
// target are left alone. It stops at the first failure, whose status is
// available through lookup.StatusOf.
func (s *Seeder) Apply(entries []Entry) (Stats, error) {
	s.stats = Stats{}
	for _, e := range entries {
		if err := s.apply(e); err != nil {
			return s.stats, fmt.Errorf("seed %s on device %d: %w", e.Path, s.dev, err)
		}
	}
	logger.Info("Seeded device %d: %d created, %d linked, %d existing",
		s.dev, s.stats.Created, s.stats.Linked, s.stats.Existing)
	return s.stats, nil
}

func (s *Seeder) apply(e Entry) error {
	path, err := plb.Canonicalize(e.Path)
	if err != nil {
		return err
	}
	if err := s.ensureAncestors(path); err != nil {
		return err
	}

	if e.Link != "" {
		return s.link(path, e.Link)
	}

	typ := lookup.FlagFile
	if e.Type == TypeDirectory {
		typ = lookup.FlagDirectory
	}
	return s.ensure(path, typ)
}

func (s *Seeder) ensureAncestors(path string) error {
	for i := 1; i < len(path); i++ {
		if path[i] != '/' {
			continue
		}
		if err := s.ensure(path[:i], lookup.FlagDirectory); err != nil {
			return err
		}
	}
	return nil
}

// ensure creates path with type typ unless it already exists as one.
func (s *Seeder) ensure(path string, typ lookup.Flags) error {
	reply, err := s.resolve(path, typ, 0)
	if err != nil {
		return err
	}
	switch reply.Status {
	case lookup.StatusOK:
		s.stats.Existing++
		return nil
	case lookup.StatusNotFound:
	default:
		return reply.Err()
	}

	reply, err = s.resolve(path, lookup.FlagCreate|lookup.FlagExclusive|typ, 0)
	if err != nil {
		return err
	}
	if !reply.OK() {
		return reply.Err()
	}
	logger.Debug("Seed created %s on device %d (index %d)", path, s.dev, reply.Index)
	s.stats.Created++
	return nil
}

func (s *Seeder) link(path, target string) error {
	target, err := plb.Canonicalize(target)
	if err != nil {
		return err
	}
	node, err := s.resolve(target, lookup.FlagNone, 0)
	if err != nil {
		return err
	}
	if !node.OK() {
		return fmt.Errorf("link target %s: %w", target, node.Err())
	}

	existing, err := s.resolve(path, lookup.FlagNone, 0)
	if err != nil {
		return err
	}
	switch {
	case existing.OK() && existing.Index == node.Index:
		s.stats.Existing++
		return nil
	case existing.OK():
		return lookup.StatusExists.Err()
	case existing.Status != lookup.StatusNotFound:
		return existing.Err()
	}

	reply, err := s.resolve(path, lookup.FlagLink, node.Index)
	if err != nil {
		return err
	}
	if !reply.OK() {
		return reply.Err()
	}
	logger.Debug("Seed linked %s to %s on device %d", path, target, s.dev)
	s.stats.Linked++
	return nil
}

func (s *Seeder) resolve(path string, flags lookup.Flags, index lookup.Index) (lookup.Reply, error) {
	rng, err := s.buf.Put(path)
	if err != nil {
		return lookup.Reply{}, err
	}
	return s.engine.Resolve(lookup.Request{
		Range:  rng,
		Device: s.dev,
		Flags:  flags,
		Index:  index,
	}), nil
}

// Dump renders entries back into a seed document.
func Dump(w io.Writer, entries []Entry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Tree{Entries: entries}); err != nil {
		return fmt.Errorf("failed to encode seed: %w", err)
	}
	return enc.Close()
}

