package universe

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v2"
)

// StyleReference points at an artist whose work anchors a visual style.
type StyleReference struct {
	Artist string   `yaml:"artist" json:"artist"`
	Works  []string `yaml:"works" json:"works"`
}

// Style is a visual identity for a universe: a named look plus the artists
// the rendering prompts should lean on.
type Style struct {
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description" json:"description"`
	References  []StyleReference `yaml:"references" json:"references"`
}

// Hero is a playable protagonist with a prose visual description that gets
// injected into image prompts mentioning them.
type Hero struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Catalog is the fixed pool universes are rolled from. It is read-only
// reference data; sessions copy what they pick.
type Catalog struct {
	Styles     []Style  `yaml:"styles" json:"styles"`
	Genres     []string `yaml:"genres" json:"genres"`
	Epochs     []string `yaml:"epochs" json:"epochs"`
	Macguffins []string `yaml:"macguffins" json:"macguffins"`
	Heroes     []Hero   `yaml:"heroes" json:"heroes"`
}

// Selection is one random roll over the catalog.
type Selection struct {
	Style     Style
	Genre     string
	Epoch     string
	Macguffin string
	Hero      Hero
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate ensures every pool has at least one entry, so Pick never panics.
func (c *Catalog) Validate() error {
	switch {
	case len(c.Styles) == 0:
		return fmt.Errorf("catalog has no styles")
	case len(c.Genres) == 0:
		return fmt.Errorf("catalog has no genres")
	case len(c.Epochs) == 0:
		return fmt.Errorf("catalog has no epochs")
	case len(c.Macguffins) == 0:
		return fmt.Errorf("catalog has no macguffins")
	case len(c.Heroes) == 0:
		return fmt.Errorf("catalog has no heroes")
	}
	return nil
}

// Pick rolls a uniform random selection. Determinism is deliberately not a
// goal here; pass a seeded rand for reproducible tests.
func (c *Catalog) Pick(r *rand.Rand) Selection {
	return Selection{
		Style:     c.Styles[r.Intn(len(c.Styles))],
		Genre:     c.Genres[r.Intn(len(c.Genres))],
		Epoch:     c.Epochs[r.Intn(len(c.Epochs))],
		Macguffin: c.Macguffins[r.Intn(len(c.Macguffins))],
		Hero:      c.Heroes[r.Intn(len(c.Heroes))],
	}
}

// ArtistStyle names the artist whose look anchors rendered panels. The
// rendering prompt builder appends the medium suffix itself.
func (s Style) ArtistStyle() string {
	if len(s.References) == 0 {
		return s.Name
	}
	return s.References[0].Artist
}

// Default returns the built-in catalog used when no catalog file is given.
func Default() *Catalog {
	return &Catalog{
		Styles: []Style{
			{
				Name:        "Franco-Belgian clear line",
				Description: "Crisp uniform outlines, flat saturated colors, meticulous backgrounds.",
				References: []StyleReference{
					{Artist: "Herge", Works: []string{"Tintin", "The Blue Lotus"}},
					{Artist: "Edgar P. Jacobs", Works: []string{"Blake and Mortimer"}},
				},
			},
			{
				Name:        "American noir",
				Description: "High-contrast ink, hard shadows, rain-slick streets, stark silhouettes.",
				References: []StyleReference{
					{Artist: "Frank Miller", Works: []string{"Sin City"}},
					{Artist: "Eduardo Risso", Works: []string{"100 Bullets"}},
				},
			},
			{
				Name:        "Watercolor fantasy",
				Description: "Soft washes, bleeding edges, luminous mist, dreamlike palettes.",
				References: []StyleReference{
					{Artist: "Claire Wendling", Works: []string{"Les Lumieres de l'Amalou"}},
				},
			},
			{
				Name:        "Cyberpunk manga",
				Description: "Dense hatching, neon glow, cluttered megacity detail, kinetic panels.",
				References: []StyleReference{
					{Artist: "Katsuhiro Otomo", Works: []string{"Akira"}},
					{Artist: "Tsutomu Nihei", Works: []string{"Blame!"}},
				},
			},
			{
				Name:        "Painted pulp",
				Description: "Oil-painted covers, dramatic lighting, heroic poses, grainy texture.",
				References: []StyleReference{
					{Artist: "Alex Ross", Works: []string{"Kingdom Come", "Marvels"}},
				},
			},
			{
				Name:        "Gothic etching",
				Description: "Fine cross-hatch engraving, candlelit interiors, oppressive architecture.",
				References: []StyleReference{
					{Artist: "Bernie Wrightson", Works: []string{"Frankenstein"}},
				},
			},
		},
		Genres: []string{
			"post-apocalyptic survival",
			"steampunk adventure",
			"cosmic horror",
			"sword and sorcery",
			"hard science fiction",
			"occult detective",
			"weird western",
			"mythological epic",
		},
		Epochs: []string{
			"a drowned 21st century",
			"the late Victorian era",
			"a far-future interstellar age",
			"the Bronze Age",
			"an alternate 1920s",
			"the last ice age",
			"a medieval dark age",
			"the first colony years on a dead world",
		},
		Macguffins: []string{
			"a sealed archive said to remember every timeline",
			"the heart of a dormant machine god",
			"a cartographer's compass that points to what is lost",
			"an heirloom seed from the last green world",
			"a song that can only be sung once",
			"the key to a door that appears in dreams",
			"a vial of unfalling rain",
			"the name of the thing beneath the city",
		},
		Heroes: []Hero{
			{Name: "Sarah", Description: "a wiry woman in a patched flight jacket, short dark hair, a scar across her left eyebrow, eyes that have seen too many worlds"},
			{Name: "Mateo", Description: "a lean man with weathered brown skin, silver-streaked beard, a surveyor's coat heavy with instruments"},
			{Name: "Yun", Description: "a young courier with a shaved head, lacquered armor plates over travel silks, a lantern always at their hip"},
			{Name: "Adwoa", Description: "a tall archivist with braided hair threaded with copper wire, ink-stained fingers, a satchel of sealed scrolls"},
			{Name: "Piotr", Description: "a broad-shouldered ex-soldier, frost-bitten cheeks, a greatcoat with mismatched buttons and a compass on a chain"},
			{Name: "Imara", Description: "a sharp-eyed salvage diver, close-cropped grey hair, brass goggles pushed up on her forehead, rope burns on both palms"},
		},
	}
}
