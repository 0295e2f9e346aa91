// Package main - cvitracer runs a scan over a target directory and
// prints the findings as a table or a JSON envelope.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cvitracer/cvitracer/pkg/astprovider"
	"github.com/cvitracer/cvitracer/pkg/corpus"
	"github.com/cvitracer/cvitracer/pkg/orchestrator"
	"github.com/cvitracer/cvitracer/pkg/repair"
	"github.com/cvitracer/cvitracer/pkg/report"
	"github.com/cvitracer/cvitracer/pkg/rule"
	"github.com/cvitracer/cvitracer/pkg/session"
	"go.uber.org/zap"
)

func main() {
	target := flag.String("target", ".", "directory to scan")
	language := flag.String("language", string(rule.PHP), "rule language to run")
	manifest := flag.String("manifest", "", "path to a YAML rule manifest; empty uses the built-in rules")
	secretsDir := flag.String("secrets", "", "directory holding secret repair-catalog overlays")
	secretProfile := flag.String("secret-profile", "", "secret overlay profile name")
	output := flag.String("output", "table", "output format: table or json")
	sessionDir := flag.String("session-dir", "", "directory for {sid}_list/_status/_data progress files; empty disables progress tracking")
	sid := flag.String("sid", "", "session id; required when -session-dir is set")
	concurrency := flag.Int("concurrency", 4, "maximum rules executed concurrently")
	cachePath := flag.String("cache", "", "path to a SQLite report cache; empty disables caching")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()

	if err := run(runConfig{
		target:        *target,
		language:      rule.Language(*language),
		manifest:      *manifest,
		secretsDir:    *secretsDir,
		secretProfile: *secretProfile,
		output:        *output,
		sessionDir:    *sessionDir,
		sid:           *sid,
		concurrency:   *concurrency,
		cachePath:     *cachePath,
		logger:        logger,
	}); err != nil {
		logger.Error("scan failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	return logger
}

type runConfig struct {
	target        string
	language      rule.Language
	manifest      string
	secretsDir    string
	secretProfile string
	output        string
	sessionDir    string
	sid           string
	concurrency   int
	cachePath     string
	logger        *zap.Logger
}

func run(cfg runConfig) error {
	registry := rule.NewRegistry()
	registry.RegisterManifest(rule.BuiltinManifest())
	if cfg.manifest != "" {
		m, err := rule.LoadManifestYAML(cfg.manifest)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		registry.RegisterManifest(m)
	}

	catalog, warnings := repair.Load(cfg.secretsDir, cfg.secretProfile)
	for _, w := range warnings {
		cfg.logger.Warn("repair catalog warning", zap.Error(w))
	}

	cps, err := corpus.New(cfg.target, nil)
	if err != nil {
		return fmt.Errorf("build corpus: %w", err)
	}

	var provider astprovider.Provider
	if cfg.language == rule.PHP {
		php := astprovider.NewPHPProvider()
		if cfg.cachePath != "" {
			dc, err := astprovider.OpenDiskCache(cfg.cachePath)
			if err != nil {
				return fmt.Errorf("open report cache: %w", err)
			}
			defer dc.Close()
			php = php.WithDiskCache(dc)
		}
		provider = php
	}

	orch := &orchestrator.Orchestrator{
		Corpus:      cps,
		Registry:    registry,
		Catalog:     catalog,
		Provider:    provider,
		Logger:      cfg.logger,
		Concurrency: cfg.concurrency,
	}

	var run *session.Running
	if cfg.sessionDir != "" {
		if cfg.sid == "" {
			return fmt.Errorf("-sid is required when -session-dir is set")
		}
		run = session.New(cfg.sessionDir, cfg.sid)
		if err := run.InitList(1); err != nil {
			return fmt.Errorf("init session: %w", err)
		}
	}

	summary, err := orch.Scan(context.Background(), cfg.language, nil)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	if run != nil {
		detail := session.ScanDetail{
			Vulnerabilities: summary.Findings,
			Language:        string(cfg.language),
			ExtensionCount:  0,
			FileCount:       len(cps.AllFiles()),
			PushRules:       summary.PushedRules,
			TriggerRules:    len(summary.TriggeredRules),
			TargetDirectory: cfg.target,
		}
		if err := run.SetData(session.ScanResult{Code: 1001, Msg: "scan finished", Result: detail}); err != nil {
			return fmt.Errorf("write session data: %w", err)
		}
	}

	reportSummary := report.Summary{
		Findings:         summary.Findings,
		PushedRules:      summary.PushedRules,
		TriggeredRules:   summary.TriggeredRules,
		UntriggeredRules: summary.UntriggeredRules,
	}

	switch strings.ToLower(cfg.output) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary.Findings)
	default:
		report.WriteTable(os.Stdout, reportSummary)
		return nil
	}
}
