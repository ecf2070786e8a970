package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type demoConfig struct {
	Mode         string
	Addr         string
	SessionID    string
	Increments   int
	WriteTimeout time.Duration
}

func defaultDemoConfig() demoConfig {
	return demoConfig{
		Mode:         "pipe",
		Addr:         "127.0.0.1:8700",
		SessionID:    "loomdemo",
		Increments:   3,
		WriteTimeout: 10 * time.Second,
	}
}

func (c demoConfig) validate() error {
	switch c.Mode {
	case "pipe", "serve", "dial":
	default:
		return fmt.Errorf("unknown mode %q (want pipe, serve or dial)", c.Mode)
	}
	if c.Mode != "pipe" && strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("mode %q needs an address", c.Mode)
	}
	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if c.Increments < 0 {
		return fmt.Errorf("increments must not be negative")
	}
	return nil
}

type fileConfig struct {
	Mode         string `toml:"mode"`
	Addr         string `toml:"addr"`
	SessionID    string `toml:"session_id"`
	Increments   int    `toml:"increments"`
	WriteTimeout string `toml:"write_timeout"`
}

func loadDemoConfig(path string) (demoConfig, error) {
	cfg := defaultDemoConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return demoConfig{}, fmt.Errorf("load demo config: %w", err)
	}

	if meta.IsDefined("mode") {
		cfg.Mode = strings.TrimSpace(raw.Mode)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("session_id") {
		cfg.SessionID = strings.TrimSpace(raw.SessionID)
	}
	if meta.IsDefined("increments") {
		cfg.Increments = raw.Increments
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return demoConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return demoConfig{}, err
	}
	return cfg, nil
}
