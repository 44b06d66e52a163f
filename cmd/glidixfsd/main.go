// Copyright 2015 Google Inc. All Rights Reserved.
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

// Command glidixfsd mounts a GXFS or ISO9660 image and serves VFS
// operations read from stdin as newline-delimited requests, the minimal
// front end the kernel-independent core needs in lieu of an actual kernel
// module host.
package main

import (
	"fmt"
	"os"

	"github.com/madd-games/glidix-vfs/internal/config"
	"github.com/madd-games/glidix-vfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile     string
	printConfig bool
)

var rootCmd = &cobra.Command{
	Use:   "glidixfsd --image-path=<image> --mountpoint=<dir>",
	Short: "Mount a GXFS or ISO9660 disk image",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "glidixfsd: reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML mount config file")
	rootCmd.PersistentFlags().BoolVar(&printConfig, "print-config", false, "Print the fully merged mount configuration as YAML and exit")
	if err := config.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "glidixfsd: binding flags: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if printConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("glidixfsd: marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	logCfg := logger.Config{Format: cfg.Logging.Format, Severity: cfg.Logging.Severity}
	if cfg.Logging.FilePath != "" {
		w, err := logger.NewRotatingWriter(logger.FileOptions{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.LogRotate.MaxFileSizeMb,
			MaxBackups: cfg.Logging.LogRotate.BackupFileCount,
			Compress:   cfg.Logging.LogRotate.Compress,
		})
		if err != nil {
			return fmt.Errorf("glidixfsd: log writer: %w", err)
		}
		logCfg.Writer = w
	}
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("glidixfsd: logger init: %w", err)
	}

	v, proc, err := mountImage(cfg)
	if err != nil {
		logger.Fatalf("mount failed: %v", err)
		return err
	}
	logger.Infof("mounted %s (%s) at %s", cfg.ImagePath, cfg.FSType, cfg.Mountpoint)

	return serve(v, proc, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
