package judge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"prayukti-judge/internal/storage"
)

// SeedFile is the on-disk format for experiments loaded at startup.
type SeedFile struct {
	Experiments []storage.Experiment `yaml:"experiments"`
}

// ParseSeed decodes a seed document. Unknown fields are rejected.
func ParseSeed(data []byte) ([]storage.Experiment, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	return seed.Experiments, nil
}

// Seed creates every experiment in the file that does not exist yet and
// returns how many were created. Experiments already present are left as
// they are.
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file: %w", err)
	}
	exps, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range exps {
		exp := &exps[i]
		if _, err := s.CreateExperiment(ctx, exp); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				log.Debug().Str("experiment_id", exp.ID).Msg("seed experiment already present")
				continue
			}
			return created, fmt.Errorf("seeding experiment %q: %w", exp.ID, err)
		}
		created++
	}

	log.Info().Str("path", path).Int("created", created).Int("total", len(exps)).Msg("experiments seeded")
	return created, nil
}
