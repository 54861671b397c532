// Package quest holds the side-quest catalog and a user's progress
// through it: at most one quest in progress, XP and gold on completion.
package quest

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Difficulty is a quest rank, S++ being the hardest and F a failed quest.
type Difficulty string

const (
	DifficultySPlusPlus Difficulty = "S++"
	DifficultyS         Difficulty = "S"
	DifficultyA         Difficulty = "A"
	DifficultyB         Difficulty = "B"
	DifficultyC         Difficulty = "C"
	DifficultyF         Difficulty = "F"
)

// Rank orders difficulties hardest first. Unknown ranks sort last.
func (d Difficulty) Rank() int {
	switch Difficulty(strings.ToUpper(string(d))) {
	case DifficultySPlusPlus:
		return 0
	case DifficultyS:
		return 1
	case DifficultyA:
		return 2
	case DifficultyB:
		return 3
	case DifficultyC:
		return 4
	case DifficultyF:
		return 5
	}
	return 6
}

// Quest is one catalog entry.
type Quest struct {
	ID                int        `yaml:"id" json:"id"`
	Name              string     `yaml:"name" json:"name"`
	Difficulty        Difficulty `yaml:"difficulty" json:"difficulty"`
	ShortDescription  string     `yaml:"short_description" json:"short_description"`
	LongDescription   string     `yaml:"long_description" json:"long_description"`
	EstimatedDuration string     `yaml:"estimated_duration" json:"estimated_duration"`
	XPReward          int        `yaml:"xp_reward" json:"xp_reward"`
	GoldReward        int        `yaml:"gold_reward" json:"gold_reward"`
	BadgeImageURL     string     `yaml:"badge_img_url" json:"badge_img_url,omitempty"`
	BannerImageURL    string     `yaml:"banner_img_url" json:"banner_img_url,omitempty"`
}

// Catalog is the read-only set of available quests.
type Catalog struct {
	quests []Quest
	byID   map[int]Quest
}

// NewCatalog validates quests and indexes them by id.
func NewCatalog(quests []Quest) (*Catalog, error) {
	c := &Catalog{
		quests: make([]Quest, 0, len(quests)),
		byID:   make(map[int]Quest, len(quests)),
	}
	for _, q := range quests {
		if q.ID <= 0 {
			return nil, fmt.Errorf("quest %q: id must be positive", q.Name)
		}
		if strings.TrimSpace(q.Name) == "" {
			return nil, fmt.Errorf("quest %d: empty name", q.ID)
		}
		if q.XPReward < 0 || q.GoldReward < 0 {
			return nil, fmt.Errorf("quest %d: negative reward", q.ID)
		}
		if _, dup := c.byID[q.ID]; dup {
			return nil, fmt.Errorf("quest %d: duplicate id", q.ID)
		}
		c.byID[q.ID] = q
		c.quests = append(c.quests, q)
	}
	return c, nil
}

type catalogFile struct {
	Quests []Quest `yaml:"quests"`
}

// ParseCatalog reads a YAML document with a top-level `quests` list.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse quest catalog: %w", err)
	}
	return NewCatalog(f.Quests)
}

// LoadCatalog reads the catalog file at path. An empty path returns the
// built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the quests shipped with the app.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

var builtin = []Quest{
	{ID: 1, Name: "Morning Meditation", Difficulty: DifficultyC,
		ShortDescription:  "Start your day with clarity and purpose",
		LongDescription:   "Begin your day with 10 minutes of meditation.",
		EstimatedDuration: "10 mins", XPReward: 50, GoldReward: 10},
	{ID: 2, Name: "Nature Explorer", Difficulty: DifficultyB,
		ShortDescription:  "Take a walk in nature and document 3 interesting findings",
		LongDescription:   "Step outside and immerse yourself in nature.",
		EstimatedDuration: "30 mins", XPReward: 100, GoldReward: 20},
	{ID: 3, Name: "Knowledge Expansion", Difficulty: DifficultyB,
		ShortDescription:  "Learn something new and share with a friend",
		LongDescription:   "Dedicate 45 minutes to learning about a new topic.",
		EstimatedDuration: "45 mins", XPReward: 120, GoldReward: 25},
	{ID: 4, Name: "Digital Detox", Difficulty: DifficultyA,
		ShortDescription:  "Go 3 hours without checking your phone or social media",
		LongDescription:   "Unplug and disconnect for three consecutive hours.",
		EstimatedDuration: "3 hours", XPReward: 200, GoldReward: 40},
	{ID: 5, Name: "Ultimate Challenge", Difficulty: DifficultyS,
		ShortDescription:  "Complete all quests in one day",
		LongDescription:   "Attempt to complete every available quest within a single 24-hour period.",
		EstimatedDuration: "5 hours", XPReward: 500, GoldReward: 100},
	{ID: 6, Name: "Legendary Feat", Difficulty: DifficultySPlusPlus,
		ShortDescription:  "Achieve the impossible!",
		LongDescription:   "Complete a hidden legendary quest.",
		EstimatedDuration: "8 hours", XPReward: 1000, GoldReward: 250},
	{ID: 7, Name: "Failed Quest", Difficulty: DifficultyF,
		ShortDescription:  "Try again next time.",
		LongDescription:   "This quest represents a challenge that was attempted but not completed.",
		EstimatedDuration: "--"},
}

// Get returns the quest with the given id.
func (c *Catalog) Get(id int) (Quest, bool) {
	q, ok := c.byID[id]
	return q, ok
}

// Name returns the quest's name, or "" for unknown ids. It fits
// friend.QuestNamer.
func (c *Catalog) Name(id int) string {
	return c.byID[id].Name
}

// Len returns the number of quests.
func (c *Catalog) Len() int { return len(c.quests) }

// Sorted returns the quests with the in-progress one first, then hardest
// first, then by XP reward descending.
func (c *Catalog) Sorted(inProgress int) []Quest {
	out := slices.Clone(c.quests)
	slices.SortStableFunc(out, func(a, b Quest) int {
		switch {
		case a.ID == inProgress && b.ID != inProgress:
			return -1
		case b.ID == inProgress && a.ID != inProgress:
			return 1
		}
		if ra, rb := a.Difficulty.Rank(), b.Difficulty.Rank(); ra != rb {
			return ra - rb
		}
		return b.XPReward - a.XPReward
	})
	return out
}
