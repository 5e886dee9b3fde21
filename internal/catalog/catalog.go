// Package catalog lists the background videos and music tracks a result
// can be mixed with, and picks among them.
package catalog

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnknown is returned for an id that is not in the catalog.
var ErrUnknown = errors.New("unknown catalog entry")

// ErrEmpty is returned when a random video is requested from an empty catalog.
var ErrEmpty = errors.New("catalog has no videos")

// Kind separates videos from music.
type Kind string

const (
	KindVideo Kind = "video"
	KindMusic Kind = "music"
)

// NoMusic is the music id that selects silence.
const NoMusic = "none"

// Entry is one media file.
type Entry struct {
	ID   string `mapstructure:"id" yaml:"id" json:"id"`
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	File string `mapstructure:"file" yaml:"file" json:"file"` // relative to the media dir unless absolute
}

// Config lists the catalog contents.
type Config struct {
	Dir    string  `mapstructure:"dir" yaml:"dir"`
	Videos []Entry `mapstructure:"videos" yaml:"videos"`
	Music  []Entry `mapstructure:"music" yaml:"music"`
}

// DefaultConfig is the stock catalog.
func DefaultConfig() Config {
	return Config{
		Videos: []Entry{
			{ID: "minecraft", Name: "Minecraft Relax", File: "satisfying_video.mp4"},
			{ID: "subway", Name: "Subway Surf", File: "subway.mp4"},
		},
		Music: []Entry{
			{ID: "classique", Name: "Classique", File: "classique.mp3"},
			{ID: "relax", Name: "Relaxante", File: "relax.mp3"},
			{ID: "epic", Name: "Épique", File: "epic.mp3"},
		},
	}
}

// Listing is the public view of the catalog.
type Listing struct {
	Videos []Item `json:"videos"`
	Music  []Item `json:"music"`
}

// Item is an entry with its serving URL.
type Item struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Available bool   `json:"available"`
}

// Catalog is safe for concurrent use; Update swaps contents on config reload.
type Catalog struct {
	mu     sync.RWMutex
	dir    string
	videos []Entry
	music  []Entry
}

// New builds a catalog. Relative entry files resolve against cfg.Dir, or
// defaultDir when cfg.Dir is empty.
func New(cfg Config, defaultDir string) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Update(cfg, defaultDir); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces the catalog contents.
func (c *Catalog) Update(cfg Config, defaultDir string) error {
	if err := validate(cfg); err != nil {
		return err
	}
	dir := cfg.Dir
	if dir == "" {
		dir = defaultDir
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = dir
	c.videos = append([]Entry(nil), cfg.Videos...)
	c.music = append([]Entry(nil), cfg.Music...)
	return nil
}

func validate(cfg Config) error {
	seen := map[string]bool{}
	check := func(kind Kind, entries []Entry) error {
		for _, e := range entries {
			if e.ID == "" || e.File == "" {
				return fmt.Errorf("%s entry %q needs an id and a file", kind, e.Name)
			}
			key := string(kind) + "/" + e.ID
			if seen[key] {
				return fmt.Errorf("duplicate %s id %q", kind, e.ID)
			}
			if kind == KindMusic && e.ID == NoMusic {
				return fmt.Errorf("music id %q is reserved", NoMusic)
			}
			seen[key] = true
		}
		return nil
	}
	if err := check(KindVideo, cfg.Videos); err != nil {
		return err
	}
	return check(KindMusic, cfg.Music)
}

// Lookup returns the entry of kind with id.
func (c *Catalog) Lookup(kind Kind, id string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries(kind) {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s %q", ErrUnknown, kind, id)
}

// PickVideo returns the video with id, or a uniformly random one when id
// is empty.
func (c *Catalog) PickVideo(id string, r *rand.Rand) (Entry, error) {
	if id != "" {
		return c.Lookup(KindVideo, id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.videos) == 0 {
		return Entry{}, ErrEmpty
	}
	return c.videos[r.IntN(len(c.videos))], nil
}

// PickMusic returns the music with id, or nil for "" and NoMusic.
func (c *Catalog) PickMusic(id string) (*Entry, error) {
	if id == "" || id == NoMusic {
		return nil, nil
	}
	e, err := c.Lookup(KindMusic, id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Path resolves the file of an entry.
func (c *Catalog) Path(e Entry) string {
	if filepath.IsAbs(e.File) {
		return e.File
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(c.dir, e.File)
}

// URL is the path the server serves an entry under.
func URL(kind Kind, id string) string {
	return "/media/" + string(kind) + "/" + id
}

// List returns videos and music in configured order, with availability
// of the backing files.
func (c *Catalog) List() Listing {
	c.mu.RLock()
	videos := append([]Entry(nil), c.videos...)
	music := append([]Entry(nil), c.music...)
	c.mu.RUnlock()

	items := func(kind Kind, entries []Entry) []Item {
		out := make([]Item, 0, len(entries))
		for _, e := range entries {
			_, err := os.Stat(c.Path(e))
			out = append(out, Item{ID: e.ID, Name: e.Name, URL: URL(kind, e.ID), Available: err == nil})
		}
		return out
	}
	return Listing{Videos: items(KindVideo, videos), Music: items(KindMusic, music)}
}

// IDs returns the sorted ids of kind.
func (c *Catalog) IDs(kind Kind) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.entries(kind)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) entries(kind Kind) []Entry {
	if kind == KindMusic {
		return c.music
	}
	return c.videos
}
