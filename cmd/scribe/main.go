// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScribe/pkg/config"
	"github.com/AleutianAI/AleutianScribe/pkg/logging"
)

var (
	cfg        config.Config
	configPath string

	rootCmd = &cobra.Command{
		Use:   "scribe",
		Short: "A CLI for streamed, human-in-the-loop document co-authoring",
		Long: `Scribe coordinates long-running assistant interactions against a
document backend: co-authoring sessions with streamed proposals you
approve or reject, and document QA review sessions with cancel/retry.`,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		cfg = loaded

		logger := logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Logging.Level),
			LogDir:  cfg.Logging.Dir,
			Service: "scribe",
			JSON:    cfg.Logging.JSON,
			Quiet:   cfg.Logging.Quiet,
		})
		logger.SetAsDefault()
	}
}
