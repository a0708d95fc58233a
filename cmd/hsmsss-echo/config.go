package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fablink/go-hsms/hsmsss"
	"github.com/fablink/go-hsms/logger"
)

type fileConfig struct {
	Name             string `toml:"name"`
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	Role             string `toml:"role"`
	RebindInterval   string `toml:"rebind_interval"`
	Equipment        bool   `toml:"equipment"`
	SessionID        uint16 `toml:"session_id"`
	AutoLinktest     bool   `toml:"auto_linktest"`
	LinktestInterval string `toml:"linktest_interval"`
	T3               string `toml:"t3"`
	T5               string `toml:"t5"`
	T6               string `toml:"t6"`
	T7               string `toml:"t7"`
	T8               string `toml:"t8"`
	ConnectTimeout   string `toml:"connect_timeout"`
	LogLevel         string `toml:"log_level"`
	LogSubjectHeader string `toml:"log_subject_header"`
	MetricsAddr      string `toml:"metrics_addr"`
}

type echoConfig struct {
	Host        string
	Port        int
	Role        hsmsss.Role
	LogLevel    logger.LogLevel
	MetricsAddr string
	Options     []hsmsss.ConnOption
}

func defaultEchoConfig() echoConfig {
	return echoConfig{
		Host:        "127.0.0.1",
		Port:        5000,
		Role:        hsmsss.RolePassive,
		LogLevel:    logger.InfoLevel,
		MetricsAddr: "127.0.0.1:9100",
	}
}

func loadEchoConfig(path string) (echoConfig, error) {
	cfg := defaultEchoConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return echoConfig{}, fmt.Errorf("load echo config: %w", err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}

	if meta.IsDefined("role") {
		role, err := hsmsss.ParseRole(raw.Role)
		if err != nil {
			return echoConfig{}, fmt.Errorf("parse role: %w", err)
		}
		cfg.Role = role
	}

	switch cfg.Role {
	case hsmsss.RoleActive:
		cfg.Options = append(cfg.Options, hsmsss.WithActive())
	case hsmsss.RolePassive, hsmsss.RolePassiveRebind:
		// a passive role with a rebind interval rebinds after every session
		if meta.IsDefined("rebind_interval") || cfg.Role == hsmsss.RolePassiveRebind {
			interval := 5 * time.Second
			if meta.IsDefined("rebind_interval") {
				if interval, err = parseDuration("rebind_interval", raw.RebindInterval); err != nil {
					return echoConfig{}, err
				}
			}
			cfg.Role = hsmsss.RolePassiveRebind
			cfg.Options = append(cfg.Options, hsmsss.WithPassiveRebind(interval))
		} else {
			cfg.Options = append(cfg.Options, hsmsss.WithPassive())
		}
	}

	if meta.IsDefined("name") {
		cfg.Options = append(cfg.Options, hsmsss.WithName(strings.TrimSpace(raw.Name)))
	}

	if meta.IsDefined("equipment") && raw.Equipment {
		cfg.Options = append(cfg.Options, hsmsss.WithEquipRole())
	} else {
		cfg.Options = append(cfg.Options, hsmsss.WithHostRole())
	}

	if meta.IsDefined("session_id") {
		cfg.Options = append(cfg.Options, hsmsss.WithSessionID(raw.SessionID))
	}

	if meta.IsDefined("auto_linktest") {
		cfg.Options = append(cfg.Options, hsmsss.WithAutoLinktest(raw.AutoLinktest))
	}

	timers := []struct {
		key   string
		value string
		opt   func(time.Duration) hsmsss.ConnOption
	}{
		{"linktest_interval", raw.LinktestInterval, hsmsss.WithLinktestInterval},
		{"t3", raw.T3, hsmsss.WithT3Timeout},
		{"t5", raw.T5, hsmsss.WithT5Timeout},
		{"t6", raw.T6, hsmsss.WithT6Timeout},
		{"t7", raw.T7, hsmsss.WithT7Timeout},
		{"t8", raw.T8, hsmsss.WithT8Timeout},
		{"connect_timeout", raw.ConnectTimeout, hsmsss.WithConnectTimeout},
	}
	for _, timer := range timers {
		if !meta.IsDefined(timer.key) {
			continue
		}

		d, err := parseDuration(timer.key, timer.value)
		if err != nil {
			return echoConfig{}, err
		}
		cfg.Options = append(cfg.Options, timer.opt(d))
	}

	if meta.IsDefined("log_level") {
		level, err := logger.ParseLevel(raw.LogLevel)
		if err != nil {
			return echoConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("log_subject_header") {
		cfg.Options = append(cfg.Options, hsmsss.WithLogSubjectHeader(raw.LogSubjectHeader))
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	return cfg, nil
}

func parseDuration(key string, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	return d, nil
}
