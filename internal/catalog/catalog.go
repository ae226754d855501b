package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dreamie/internal/domain"
)

// LinkBase prefixes every villager reference link.
const LinkBase = "https://villagerdb.com/villager/"

// ErrUnknownVillager is returned for names absent from the catalog.
var ErrUnknownVillager = errors.New("unknown villager")

// DefaultAliases covers villagers whose names contain a space, so users can
// type the first word only.
var DefaultAliases = map[string]string{
	"kid":   "Kid Cat",
	"agent": "Agent S",
	"big":   "Big Top",
	"wart":  "Wart Jr.",
}

// Catalog is the static list of requestable villagers.
type Catalog struct {
	names   map[string]string
	aliases map[string]string
}

// New builds a catalog from canonical names.
func New(names []string) *Catalog {
	c := &Catalog{names: map[string]string{}, aliases: map[string]string{}}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || strings.HasPrefix(n, "#") {
			continue
		}
		c.names[strings.ToLower(n)] = n
	}
	for alias, target := range DefaultAliases {
		c.AddAlias(alias, target)
	}
	return c
}

// Load reads one villager name per line; blank lines and # comments are skipped.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open villager catalog: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a catalog from r.
func Read(r io.Reader) (*Catalog, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read villager catalog: %w", err)
	}
	return New(names), nil
}

// AddAlias maps a shorthand to a canonical name. Aliases that collide with a
// real villager name are ignored, and so are aliases for unknown targets.
func (c *Catalog) AddAlias(alias, target string) {
	key := strings.ToLower(strings.TrimSpace(alias))
	if key == "" {
		return
	}
	if _, real := c.names[key]; real {
		return
	}
	if _, ok := c.names[strings.ToLower(target)]; !ok {
		return
	}
	c.aliases[key] = target
}

// Len returns the number of villagers.
func (c *Catalog) Len() int { return len(c.names) }

// Resolve maps user input to a canonical villager.
func (c *Catalog) Resolve(input string) (domain.Villager, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "" {
		return domain.Villager{}, fmt.Errorf("%w: empty name", ErrUnknownVillager)
	}
	name, ok := c.names[key]
	if !ok {
		target, aliased := c.aliases[key]
		if !aliased {
			return domain.Villager{}, fmt.Errorf("%w: %s is not a valid villager name", ErrUnknownVillager, strings.TrimSpace(input))
		}
		name = target
	}
	return domain.Villager{Name: name, Link: Link(name)}, nil
}

// Link derives the reference URL for a canonical name.
func Link(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, ".", "")
	slug = strings.Join(strings.Fields(slug), "-")
	return LinkBase + slug
}
