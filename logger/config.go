package logger

// Config controls the process logger.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
	// File, when set, also writes JSON lines to a rotated file.
	File *FileConfig `yaml:"file"`
	// Sampling keeps bursts of ten debug or trace lines per second and one
	// in a hundred after that.
	Sampling bool `yaml:"sampling"`
}

// FileConfig holds file rotation configuration.
type FileConfig struct {
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size_mb"`
	MaxAge     int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig logs JSON at info level to the console writer only.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// DefaultFileConfig returns rotation defaults for filename.
func DefaultFileConfig(filename string) *FileConfig {
	return &FileConfig{
		Filename:   filename,
		MaxSize:    100, // megabytes
		MaxAge:     30,  // days
		MaxBackups: 10,
		Compress:   true,
	}
}
