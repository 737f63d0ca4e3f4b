package tuning

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"griddiffuse.dev/internal/sim/diffuse"
)

type Tuning struct {
	Directions     []string `yaml:"directions"`
	OccupiedMarker string   `yaml:"occupied_marker"`
	VacantMarker   string   `yaml:"vacant_marker"`

	Rounds    int `yaml:"rounds"`
	MaxRounds int `yaml:"max_rounds"`
	Workers   int `yaml:"workers"`
	ChunkSize int `yaml:"chunk_size"`

	RoundRateHz      int  `yaml:"round_rate_hz"`
	StopWhenStable   bool `yaml:"stop_when_stable"`
	LogSegmentRounds int  `yaml:"log_segment_rounds"`
}

func Defaults() Tuning {
	return Tuning{
		Directions:       []string{"N", "S", "W", "E"},
		OccupiedMarker:   "#",
		VacantMarker:     ".",
		Rounds:           10,
		Workers:          1,
		ChunkSize:        256,
		RoundRateHz:      5,
		StopWhenStable:   true,
		LogSegmentRounds: 1000,
	}
}

// Load reads a tuning file. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if _, err := diffuse.ParsePriority(t.Directions); err != nil {
		return fmt.Errorf("directions: %w", err)
	}
	occ, err := marker("occupied_marker", t.OccupiedMarker)
	if err != nil {
		return err
	}
	vac, err := marker("vacant_marker", t.VacantMarker)
	if err != nil {
		return err
	}
	if occ == vac {
		return errors.New("occupied_marker and vacant_marker must differ")
	}
	if vac == '\n' || occ == '\n' {
		return errors.New("markers cannot be a newline")
	}
	switch {
	case t.Rounds < 0:
		return errors.New("rounds must be >= 0")
	case t.MaxRounds < 0:
		return errors.New("max_rounds must be >= 0")
	case t.Workers < 1:
		return errors.New("workers must be >= 1")
	case t.ChunkSize < 1:
		return errors.New("chunk_size must be >= 1")
	case t.RoundRateHz < 1:
		return errors.New("round_rate_hz must be >= 1")
	case t.LogSegmentRounds < 1:
		return errors.New("log_segment_rounds must be >= 1")
	}
	return nil
}

// Priority returns the configured initial direction order.
func (t Tuning) Priority() (diffuse.Priority, error) {
	return diffuse.ParsePriority(t.Directions)
}

func (t Tuning) Occupied() rune { r, _ := utf8.DecodeRuneInString(t.OccupiedMarker); return r }
func (t Tuning) Vacant() rune   { r, _ := utf8.DecodeRuneInString(t.VacantMarker); return r }

func (t Tuning) Engine() diffuse.Engine {
	return diffuse.Engine{Workers: t.Workers, ChunkSize: t.ChunkSize}
}

func marker(name, s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%s must be a single character, got %q", name, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
