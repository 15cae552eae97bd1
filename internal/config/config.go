package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PinsConfig names the discrete control lines by their periph.io GPIO names
// (e.g. "GPIO25"). The SPI clock/data lines belong to the SPI port itself.
type PinsConfig struct {
	// DC is the data/command select line (low = command, high = data).
	DC string `yaml:"dc" json:"dc"`
	// RST is the panel reset line.
	RST string `yaml:"rst" json:"rst"`
	// Busy is the panel busy status input.
	Busy string `yaml:"busy" json:"busy"`
	// Button is the interrupt-capable confirmation button input (active low).
	Button string `yaml:"button" json:"button"`
}

// Config is the top-level application configuration.
type Config struct {
	// TimezoneOffset is the fixed local offset used for all scheduling,
	// e.g. "+09:00". No daylight-saving recalculation is performed.
	TimezoneOffset string `yaml:"timezone_offset" json:"timezone_offset"`

	// WakeHour is the local hour of the morning wake (0-23).
	WakeHour int `yaml:"wake_hour" json:"wake_hour"`

	// CutoffHour is the local hour of the evening finalize (0-23).
	// A confirmation edge counts only if it is strictly before the cutoff.
	CutoffHour int `yaml:"cutoff_hour" json:"cutoff_hour"`

	// DebounceMs is the interval a button edge must stay stable to count.
	DebounceMs int `yaml:"debounce_ms" json:"debounce_ms"`

	// StatePath is where the current day record is persisted.
	StatePath string `yaml:"state_path" json:"state_path"`

	// KataListPath points at a yaml list of exercise names. Empty means the
	// built-in default list.
	KataListPath string `yaml:"kata_list_path" json:"kata_list_path"`

	// RecentWindow is how many recently shown names are excluded when
	// picking the next one.
	RecentWindow int `yaml:"recent_window" json:"recent_window"`

	// UploadURL is the remote ledger webhook. Empty disables upload.
	UploadURL string `yaml:"upload_url" json:"upload_url"`

	// BatteryFloor is the charge percentage below which the morning render
	// is skipped. 0 disables the check.
	BatteryFloor int `yaml:"battery_floor" json:"battery_floor"`

	// SPIPort is the periph.io SPI port name ("" = system default).
	SPIPort string `yaml:"spi_port" json:"spi_port"`

	// SPIHz is the SPI clock frequency.
	SPIHz int64 `yaml:"spi_hz" json:"spi_hz"`

	// Pins holds the GPIO line assignments.
	Pins PinsConfig `yaml:"pins" json:"pins"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		TimezoneOffset: "+00:00",
		WakeHour:       7,
		CutoffHour:     23,
		DebounceMs:     50,
		StatePath:      "/var/lib/kataday/day.yaml",
		KataListPath:   "",
		RecentWindow:   7,
		UploadURL:      "",
		BatteryFloor:   0,
		SPIPort:        "",
		SPIHz:          2_000_000,
		Pins: PinsConfig{
			DC:     "GPIO25",
			RST:    "GPIO17",
			Busy:   "GPIO24",
			Button: "GPIO26",
		},
		LogLevel: "info",
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly, and rejects values that would break
// scheduling.
func (c *Config) Normalize() error {
	def := DefaultConfig()

	if c.TimezoneOffset == "" {
		c.TimezoneOffset = def.TimezoneOffset
	}
	if c.WakeHour < 0 || c.WakeHour > 23 {
		return fmt.Errorf("config: wake_hour %d out of range", c.WakeHour)
	}
	if c.CutoffHour == 0 {
		c.CutoffHour = def.CutoffHour
	}
	if c.CutoffHour < 0 || c.CutoffHour > 23 {
		return fmt.Errorf("config: cutoff_hour %d out of range", c.CutoffHour)
	}
	if c.WakeHour >= c.CutoffHour {
		return fmt.Errorf("config: wake_hour %d must be before cutoff_hour %d", c.WakeHour, c.CutoffHour)
	}
	if c.DebounceMs <= 0 {
		c.DebounceMs = def.DebounceMs
	}
	if c.StatePath == "" {
		c.StatePath = def.StatePath
	}
	if c.RecentWindow < 0 {
		c.RecentWindow = def.RecentWindow
	}
	if c.BatteryFloor < 0 || c.BatteryFloor > 100 {
		return fmt.Errorf("config: battery_floor %d out of range", c.BatteryFloor)
	}
	if c.SPIHz <= 0 {
		c.SPIHz = def.SPIHz
	}
	if c.Pins.DC == "" {
		c.Pins.DC = def.Pins.DC
	}
	if c.Pins.RST == "" {
		c.Pins.RST = def.Pins.RST
	}
	if c.Pins.Busy == "" {
		c.Pins.Busy = def.Pins.Busy
	}
	if c.Pins.Button == "" {
		c.Pins.Button = def.Pins.Button
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed, write a
//     default config with 0600 perms, and return the default config.
//   - If the file exists: read YAML, unmarshal, normalize.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	if err := cfg.Normalize(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".kataday-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
