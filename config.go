// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/arvados/ldqc/rss"
)

// qcConfig holds the settings for a loci-qc run. It can be loaded
// from a TOML file; command line flags override file values.
type qcConfig struct {
	RTol           float64 `toml:"r_tol"`
	Method         string  `toml:"method"`
	Seed           uint64  `toml:"seed"`
	MixtureMaxIter int     `toml:"mixture_max_iter"`
	Threads        int     `toml:"threads"`
	Gzip           bool    `toml:"gzip"`
	EigenCacheSize int     `toml:"eigen_cache_size"`
}

func defaultQCConfig() qcConfig {
	return qcConfig{
		RTol:           1e-3,
		Method:         string(rss.NullMLE),
		Threads:        1,
		Gzip:           true,
		EigenCacheSize: 4,
	}
}

// loadQCConfig decodes the TOML file fnm over cfg.
func loadQCConfig(fnm string, cfg *qcConfig) error {
	md, err := toml.DecodeFile(fnm, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%s: unknown setting %q", fnm, undecoded[0].String())
	}
	return nil
}

func (cfg qcConfig) validate() error {
	if _, err := rss.ParseMethod(cfg.Method); err != nil {
		return err
	}
	if cfg.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", cfg.Threads)
	}
	if cfg.RTol < 0 {
		return fmt.Errorf("r_tol must not be negative, got %g", cfg.RTol)
	}
	return nil
}

func (cfg qcConfig) mixture() rss.MixtureConfig {
	mc := rss.DefaultMixtureConfig()
	mc.Seed = cfg.Seed
	if cfg.MixtureMaxIter > 0 {
		mc.MaxIter = cfg.MixtureMaxIter
	}
	return mc
}
