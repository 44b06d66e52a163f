// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config is glidixfsd's mount configuration: an optional YAML file
// layered under command-line flags, unmarshalled with viper the way a mount
// daemon started by init/fstab needs (flags for the common case, a config
// file for everything else).
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FSType names the on-disk driver a mount should use.
type FSType string

const (
	FSTypeGXFS    FSType = "gxfs"
	FSTypeISO9660 FSType = "iso9660"
)

// LogRotateConfig configures internal/logger's rotating file writer.
type LogRotateConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb" mapstructure:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count" mapstructure:"backup-file-count"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// LoggingConfig is the subset of logger.Config a mount exposes as flags/YAML.
type LoggingConfig struct {
	Severity  string          `yaml:"severity" mapstructure:"severity"`
	Format    string          `yaml:"format" mapstructure:"format"`
	FilePath  string          `yaml:"file-path" mapstructure:"file-path"`
	LogRotate LogRotateConfig `yaml:"log-rotate" mapstructure:"log-rotate"`
}

// Config is glidixfsd's full mount configuration.
type Config struct {
	ImagePath  string `yaml:"image-path" mapstructure:"image-path"`
	Mountpoint string `yaml:"mountpoint" mapstructure:"mountpoint"`
	FSType     FSType `yaml:"fs-type" mapstructure:"fs-type"`

	UID  uint32 `yaml:"uid" mapstructure:"uid"`
	GID  uint32 `yaml:"gid" mapstructure:"gid"`
	Mode Octal  `yaml:"mode" mapstructure:"mode"`

	ReadOnly bool `yaml:"read-only" mapstructure:"read-only"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	MetricsEnabled bool `yaml:"metrics-enabled" mapstructure:"metrics-enabled"`
}

// DefaultLoggingConfig mirrors the defaults a mount gets before any flag or
// config file is parsed.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: "INFO",
		Format:   "text",
		LogRotate: LogRotateConfig{
			MaxFileSizeMb:   512,
			BackupFileCount: 10,
			Compress:        true,
		},
	}
}

// Default returns the configuration a mount gets with no flags and no
// config file at all, aside from the mandatory ImagePath/Mountpoint.
func Default() Config {
	return Config{
		FSType:  FSTypeGXFS,
		Mode:    Octal(0755),
		Logging: DefaultLoggingConfig(),
	}
}

// BindFlags registers every Config field as a pflag and binds it into viper,
// so that `viper.Unmarshal` below picks up either the flag, the YAML value,
// or the hardcoded default, in that order of precedence.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(name string, bindErr *error) {
		if *bindErr != nil {
			return
		}
		*bindErr = viper.BindPFlag(name, flagSet.Lookup(name))
	}

	var err error
	flagSet.String("image-path", "", "Path to the disk image to mount.")
	bind("image-path", &err)

	flagSet.String("mountpoint", "", "Directory to mount the filesystem at.")
	bind("mountpoint", &err)

	flagSet.String("fs-type", string(FSTypeGXFS), "Filesystem driver: gxfs or iso9660.")
	bind("fs-type", &err)

	flagSet.Uint32("uid", 0, "Default owning uid for inodes that need one.")
	bind("uid", &err)

	flagSet.Uint32("gid", 0, "Default owning gid for inodes that need one.")
	bind("gid", &err)

	flagSet.String("mode", "0755", "Permission bits applied to every inode of an iso9660 mount, in octal.")
	bind("mode", &err)

	flagSet.Bool("read-only", false, "Mount read-only even if the driver supports writes.")
	bind("read-only", &err)

	flagSet.String("logging.severity", "INFO", "TRACE, DEBUG, INFO, WARNING, ERROR, or OFF.")
	bind("logging.severity", &err)

	flagSet.String("logging.format", "text", "text or json.")
	bind("logging.format", &err)

	flagSet.String("logging.file-path", "", "Log file path; empty logs to stderr.")
	bind("logging.file-path", &err)

	flagSet.Bool("metrics-enabled", false, "Export OpenTelemetry metrics for VFS operations.")
	bind("metrics-enabled", &err)

	return err
}

// Load unmarshals the fully-bound viper state (flags, optional config file,
// defaults) into a Config.
func Load() (Config, error) {
	cfg := Default()
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(hookFunc()))
	if err := viper.Unmarshal(&cfg, decodeHook); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate rejects a Config that Load produced but that a mount cannot
// actually proceed with.
func Validate(cfg Config) error {
	if cfg.ImagePath == "" {
		return fmt.Errorf("config: image-path is required")
	}
	if cfg.Mountpoint == "" {
		return fmt.Errorf("config: mountpoint is required")
	}
	switch cfg.FSType {
	case FSTypeGXFS, FSTypeISO9660:
	default:
		return fmt.Errorf("config: unknown fs-type %q", cfg.FSType)
	}
	return nil
}
