// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// The client_access, user_access and connect_info sections keep the field names
// used by existing gateway configuration files (BrokerID, UserID, ...).
package config
