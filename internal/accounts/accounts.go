package accounts

import (
	"os"

	"github.com/pkg/errors"
	"github.com/slastra/whatnot-shipstation-integration/internal/models"
	"go.yaml.in/yaml/v4"
)

type accountsFile struct {
	Accounts []models.Account `yaml:"accounts"`
}

// Load reads the account list from a yaml file. The list is read-only input
// to the pipelines; disabled accounts are dropped here.
func Load(path string) ([]models.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read accounts file")
	}

	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "unmarshal accounts yaml")
	}

	out := make([]models.Account, 0, len(f.Accounts))
	for _, a := range f.Accounts {
		if !a.Enabled {
			continue
		}
		if a.Name == "" {
			return nil, errors.New("account with empty name")
		}
		out = append(out, a)
	}
	return out, nil
}

// Select filters loaded accounts by name. An empty name list means all.
func Select(all []models.Account, names []string) ([]models.Account, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]models.Account, len(all))
	for _, a := range all {
		byName[a.Name] = a
	}
	out := make([]models.Account, 0, len(names))
	for _, n := range names {
		a, ok := byName[n]
		if !ok {
			return nil, errors.Errorf("unknown account %q", n)
		}
		out = append(out, a)
	}
	return out, nil
}
