package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Whatnot     WhatnotConfig     `yaml:"whatnot"`
	ShipStation ShipStationConfig `yaml:"shipstation"`
	Sync        SyncConfig        `yaml:"sync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	SyncProgressTopicName string `yaml:"sync_progress_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type WhatnotConfig struct {
	BaseURL  string `yaml:"base_url"`
	PageSize int    `yaml:"page_size"`
	// Orders created before this date are never fetched. Required for the
	// first run of an account, when no cursor has been persisted yet.
	MinOrderDate       string `yaml:"min_order_date"`
	PageDelayMillis    int    `yaml:"page_delay_millis"`
	RequestTimeoutSecs int    `yaml:"request_timeout_seconds"`
}

type ShipStationConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	APISecret          string `yaml:"api_secret"`
	RatePerMinute      int    `yaml:"rate_per_minute"`
	MaxRetries         int    `yaml:"max_retries"`
	ShipmentPageSize   int    `yaml:"shipment_page_size"`
	RequestTimeoutSecs int    `yaml:"request_timeout_seconds"`
}

type SyncConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	AccountsPath string `yaml:"accounts_path"`

	// TTL for memoized order line items in redis.
	OrderItemsTTLSeconds int `yaml:"order_items_ttl_seconds"`
	// Window for suppressing duplicate log-only progress events.
	LogDedupWindowSeconds int `yaml:"log_dedup_window_seconds"`
	// Shipment window for stores that have never completed a tracking sync.
	TrackingLookbackDays int `yaml:"tracking_lookback_days"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
