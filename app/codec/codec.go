// Package codec converts between internal numeric paste ids and their
// public string form. Two interchangeable schemes: hyphen-joined animal
// words (base-64 positional over a fixed vocabulary) and hashids-style
// reversible alphanumeric tokens. The scheme is fixed per instance,
// selected once at startup.
package codec

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/speps/go-hashids/v2"
)

// Mode selects the encoding scheme
type Mode string

// Supported encoding modes
const (
	ModeAnimals Mode = "animals"
	ModeHashIDs Mode = "hashids"
)

// ErrBadID returned when a public identifier can't be decoded
var ErrBadID = errors.New("can't decode identifier")

const hashIDMinLength = 6

// animalWords is the fixed base-64 vocabulary. Order is significant,
// it defines digit values.
var animalWords = []string{
	"ant", "eel", "mole", "sloth", "ape", "emu", "monkey", "snail",
	"bat", "falcon", "mouse", "snake", "bear", "fish", "otter", "spider",
	"bee", "fly", "parrot", "squid", "bird", "fox", "panda", "swan",
	"bison", "frog", "pig", "tiger", "camel", "gecko", "pigeon", "toad",
	"cat", "goat", "pony", "turkey", "cobra", "goose", "pug", "turtle",
	"crow", "hawk", "rabbit", "viper", "deer", "horse", "rat", "wasp",
	"dog", "jaguar", "raven", "whale", "dove", "koala", "seal", "wolf",
	"duck", "lion", "shark", "worm", "eagle", "lizard", "sheep", "zebra",
}

var animalIndex = func() map[string]uint64 {
	m := make(map[string]uint64, len(animalWords))
	for i, w := range animalWords {
		m[w] = uint64(i)
	}
	return m
}()

// Codec encodes and decodes paste ids in a single fixed mode
type Codec struct {
	mode   Mode
	hasher *hashids.HashID
}

// New makes a codec for the given mode
func New(mode Mode) (*Codec, error) {
	c := &Codec{mode: mode}
	switch mode {
	case ModeAnimals:
	case ModeHashIDs:
		hd := hashids.NewData()
		hd.MinLength = hashIDMinLength
		hasher, err := hashids.NewWithData(hd)
		if err != nil {
			return nil, fmt.Errorf("make hashids: %w", err)
		}
		c.hasher = hasher
	default:
		return nil, fmt.Errorf("unknown codec mode %q", mode)
	}
	return c, nil
}

// Mode returns the configured encoding mode
func (c *Codec) Mode() Mode { return c.mode }

// Encode converts an id to its public string form
func (c *Codec) Encode(id uint64) string {
	if c.mode == ModeHashIDs {
		res, err := c.hasher.EncodeInt64([]int64{int64(id)}) // ids are always in the positive int64 range
		if err != nil {
			log.Printf("[ERROR] failed to encode id %d: %v", id, err)
			return ""
		}
		return res
	}
	return toAnimalWords(id)
}

// Decode converts a public string back to the numeric id.
// Returns ErrBadID for anything not produced by Encode.
func (c *Codec) Decode(s string) (uint64, error) {
	if c.mode == ModeHashIDs {
		ids, err := c.hasher.DecodeInt64WithError(s)
		if err != nil || len(ids) == 0 {
			return 0, ErrBadID
		}
		return uint64(ids[0]), nil
	}
	return fromAnimalWords(s)
}

// DecodeOrZero decodes with the id-0 sentinel on failure. Zero collides
// with the encoding of numeric zero, so callers get a false lookup miss
// instead of an error path.
func (c *Codec) DecodeOrZero(s string) uint64 {
	id, err := c.Decode(s)
	if err != nil {
		return 0
	}
	return id
}

// toAnimalWords treats the id as a base-64 number, peeling digits least
// significant first, then flips to most-significant-first for display.
func toAnimalWords(n uint64) string {
	if n == 0 {
		return animalWords[0]
	}
	var words []string
	for n > 0 {
		words = append(words, animalWords[n%uint64(len(animalWords))])
		n /= uint64(len(animalWords))
	}
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return strings.Join(words, "-")
}

func fromAnimalWords(s string) (uint64, error) {
	if s == "" {
		return 0, ErrBadID
	}
	var result uint64
	for _, w := range strings.Split(s, "-") {
		digit, ok := animalIndex[w]
		if !ok {
			return 0, ErrBadID
		}
		result = result*uint64(len(animalWords)) + digit
	}
	return result, nil
}
