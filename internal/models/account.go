package models

// Account is read-only configuration: one marketplace seller mapped to one
// ShipStation store. Loaded fresh per run, never mutated by the pipelines.
type Account struct {
	Name               string `yaml:"name" json:"name"`
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	WhatnotToken       string `yaml:"whatnot_token" json:"-"`
	ShipStationStoreID string `yaml:"shipstation_store_id" json:"shipstation_store_id"`
}
