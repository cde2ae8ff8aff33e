// Package config loads engine configuration files and notifies listeners on change.
package config

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// ChangeListener receives reloaded configuration for the name it reports.
type ChangeListener interface {
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
	GetConfigName() string
}
