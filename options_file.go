package pingback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// fileOptions is the serializable subset of Options accepted in an options
// file. Durations are written as Go duration strings ("10s", "1m30s").
type fileOptions struct {
	WidgetID      string `toml:"widget_id" yaml:"widget_id"`
	BaseURL       string `toml:"base_url" yaml:"base_url"`
	ConfigTimeout string `toml:"config_timeout" yaml:"config_timeout"`
	SubmitTimeout string `toml:"submit_timeout" yaml:"submit_timeout"`

	Theme     string `toml:"theme" yaml:"theme"`
	Locale    string `toml:"locale" yaml:"locale"`
	Page      string `toml:"page" yaml:"page"`
	Referrer  string `toml:"referrer" yaml:"referrer"`
	UserAgent string `toml:"user_agent" yaml:"user_agent"`
	Debug     bool   `toml:"debug" yaml:"debug"`
}

// LoadOptions reads an options file in TOML or YAML format, chosen by file
// extension. A missing file is not an error: the zero Options is returned
// so callers can layer their own values on top.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Options{}, nil
		}
		return Options{}, fmt.Errorf("reading options file %s: %w", path, err)
	}

	var fo fileOptions
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &fo); err != nil {
			return Options{}, fmt.Errorf("parsing options file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fo); err != nil {
			return Options{}, fmt.Errorf("parsing options file %s: %w", path, err)
		}
	default:
		return Options{}, fmt.Errorf("options file %s: unsupported extension %q", path, ext)
	}

	return fo.toOptions(path)
}

// toOptions converts the parsed file form into runtime Options.
func (fo fileOptions) toOptions(path string) (Options, error) {
	opts := Options{
		WidgetID: fo.WidgetID,
		BaseURL:  fo.BaseURL,
		Config: Config{
			Theme:     fo.Theme,
			Locale:    fo.Locale,
			Page:      fo.Page,
			Referrer:  fo.Referrer,
			UserAgent: fo.UserAgent,
			Debug:     fo.Debug,
		},
	}

	var err error
	if opts.ConfigTimeout, err = parseTimeout(fo.ConfigTimeout); err != nil {
		return Options{}, fmt.Errorf("options file %s: config_timeout: %w", path, err)
	}
	if opts.SubmitTimeout, err = parseTimeout(fo.SubmitTimeout); err != nil {
		return Options{}, fmt.Errorf("options file %s: submit_timeout: %w", path, err)
	}
	return opts, nil
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
