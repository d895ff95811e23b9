package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// serversOverlay is the on-disk shape of <dir>/.lspmux/servers.yaml.
// The overlay appends user-defined backends after the built-in (or
// config.json) list, so user servers act as more-specific additions
// rather than replacing the defaults.
type serversOverlay struct {
	Servers []overlayServer `yaml:"servers"`
}

type overlayServer struct {
	Name        string                 `yaml:"name"`
	Extensions  []string               `yaml:"extensions"`
	Command     []string               `yaml:"command"`
	RootDir     string                 `yaml:"rootDir"`
	InitOptions map[string]interface{} `yaml:"initOptions"`
	SettleMs    int                    `yaml:"settleMs"`
	LanguageID  string                 `yaml:"languageId"`
}

// LoadServersOverlay reads <dir>/.lspmux/servers.yaml if present and
// returns the backend configs it defines. A missing file is not an error.
func LoadServersOverlay(dir string) ([]BackendConfig, error) {
	path := filepath.Join(dir, ".lspmux", "servers.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var overlay serversOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, err
	}

	backends := make([]BackendConfig, 0, len(overlay.Servers))
	for _, s := range overlay.Servers {
		backends = append(backends, BackendConfig{
			Name:        s.Name,
			Extensions:  s.Extensions,
			Command:     s.Command,
			RootDir:     s.RootDir,
			InitOptions: s.InitOptions,
			SettleMs:    s.SettleMs,
			LanguageID:  s.LanguageID,
		})
	}

	return backends, nil
}
