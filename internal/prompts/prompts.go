package prompts

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/DoyleJ11/drawsync/internal/engine"
)

var Default = map[engine.Difficulty][]string{
	engine.DifficultyEasy: {
		"cat", "dog", "elephant", "giraffe", "lion", "monkey", "penguin",
		"rabbit", "turtle", "bed", "door", "fan", "apple", "banana", "cake",
		"cookie", "car", "boat", "bus",
	},
	engine.DifficultyMedium: {
		"airplane", "helicopter", "rocket", "castle", "bridge", "lighthouse",
		"windmill", "doctor", "chef", "pilot", "dancer", "baseball",
		"basketball", "soccer", "tennis", "robot", "dragon", "wizard",
		"pirate", "ghost",
	},
	engine.DifficultyHard: {
		"thunderstorm", "northern lights", "coral reef", "redwood forest",
		"hot air balloon", "vacuum cleaner", "musical conductor",
		"construction site", "garden party", "tug of war", "arm wrestling",
		"rock climbing", "thumb wrestling", "playing chess",
		"building sandcastle",
	},
}

// Generator hands out round prompts. A prompt is not repeated until every
// prompt of that difficulty has been used.
type Generator struct {
	mu    sync.Mutex
	lists map[engine.Difficulty][]string
	used  map[string]bool
	rnd   *rand.Rand
}

func NewGenerator(lists map[engine.Difficulty][]string, rnd *rand.Rand) *Generator {
	if lists == nil {
		lists = Default
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{lists: lists, used: make(map[string]bool), rnd: rnd}
}

// Next returns a prompt for d, or "" when no list exists for d.
func (g *Generator) Next(d engine.Difficulty) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	list := g.lists[d]
	if len(list) == 0 {
		return ""
	}

	available := slices.DeleteFunc(slices.Clone(list), func(p string) bool { return g.used[p] })
	if len(available) == 0 {
		for _, p := range list {
			delete(g.used, p)
		}
		available = slices.Clone(list)
	}

	prompt := available[g.rnd.IntN(len(available))]
	g.used[prompt] = true
	return prompt
}
