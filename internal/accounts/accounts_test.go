package accounts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/slastra/whatnot-shipstation-integration/internal/models"
	"github.com/stretchr/testify/require"
)

func TestLoad_DropsDisabled(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
accounts:
  - name: "cardshop"
    enabled: true
    whatnot_token: "tok-1"
    shipstation_store_id: "111"
  - name: "dormant"
    enabled: false
    whatnot_token: "tok-2"
    shipstation_store_id: "222"
`), 0o600))

	got, err := Load(p)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "cardshop", got[0].Name)
	require.Equal(t, "111", got[0].ShipStationStoreID)
}

func TestLoad_EmptyName(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "accounts.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
accounts:
  - name: ""
    enabled: true
`), 0o600))

	_, err := Load(p)
	require.Error(t, err)
}

func TestSelect(t *testing.T) {
	all := []models.Account{{Name: "a"}, {Name: "b"}}

	got, err := Select(all, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = Select(all, []string{"b"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].Name)

	_, err = Select(all, []string{"nope"})
	require.Error(t, err)
}
