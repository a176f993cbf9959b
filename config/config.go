// Copyright © by Jeff Foley 2017-2025. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the resolver settings from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	resolve "github.com/owasp-amass/tunresolve"
	"github.com/owasp-amass/tunresolve/conn"
	"github.com/owasp-amass/tunresolve/pool"
	"github.com/owasp-amass/tunresolve/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the on disk configuration. Zero values select the defaults.
type Config struct {
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	BackgroundCapacity int           `yaml:"background_capacity,omitempty"`
	Resolver           string        `yaml:"resolver,omitempty"`
	Source             string        `yaml:"source,omitempty"`
	AppName            string        `yaml:"app_name,omitempty"`
	Upstream           string        `yaml:"upstream,omitempty"`
	IPv6               bool          `yaml:"ipv6,omitempty"`
	QPS                int           `yaml:"qps,omitempty"`
	WriteQPS           int           `yaml:"write_qps,omitempty"`
	Retries            uint          `yaml:"retries,omitempty"`
	LogLevel           string        `yaml:"log_level,omitempty"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Timeout:            resolve.DefaultTimeout,
		BackgroundCapacity: resolve.MaxParallelBackgroundResolves,
		Resolver:           resolve.DefaultResolverAddr.String(),
		Source:             resolve.DefaultSourceAddr.String(),
		AppName:            resolve.DefaultAppName,
		Retries:            2,
		LogLevel:           "info",
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the configuration: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field. Errors for separate fields are combined.
func (c *Config) Validate() error {
	errs := new(multierror.Error)

	if c.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("timeout must be positive, got %v", c.Timeout))
	}
	if need := len(types.AllRecordTypes); c.BackgroundCapacity < need {
		errs = multierror.Append(errs, fmt.Errorf("background_capacity must be at least %d, got %d", need, c.BackgroundCapacity))
	}
	if _, err := netip.ParseAddrPort(c.Resolver); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("resolver: %w", err))
	}
	if _, err := netip.ParseAddrPort(c.Source); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("source: %w", err))
	}
	if c.AppName == "" {
		errs = multierror.Append(errs, errors.New("app_name must not be empty"))
	}
	if c.Upstream != "" {
		if _, _, err := net.SplitHostPort(c.Upstream); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("upstream: %w", err))
		}
	}
	if c.QPS < 0 || c.WriteQPS < 0 {
		errs = multierror.Append(errs, errors.New("qps and write_qps must not be negative"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errs.ErrorOrNil()
}

// Level returns the log level, falling back to info.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// ResolverConfig returns the settings of the resolver core. The configuration must be valid.
func (c *Config) ResolverConfig(logger *zap.Logger) resolve.Config {
	return resolve.Config{
		Logger:             logger,
		Timeout:            c.Timeout,
		BackgroundCapacity: c.BackgroundCapacity,
		ResolverAddr:       netip.MustParseAddrPort(c.Resolver),
		SourceAddr:         netip.MustParseAddrPort(c.Source),
		AppName:            c.AppName,
		IPv6Available:      c.IPv6,
	}
}

func (c *Config) HostOptions(logger *zap.Logger) conn.Options {
	return conn.Options{
		Logger:   logger,
		Upstream: c.Upstream,
		WriteQPS: c.WriteQPS,
	}
}

func (c *Config) PoolOptions(logger *zap.Logger) pool.Options {
	return pool.Options{
		Logger:  logger,
		QPS:     c.QPS,
		Retries: c.Retries,
	}
}
