// Package config persists the volume service's owner identity as a small
// JSON file. The identity is generated on first run and stable for the life
// of the configuration location.
package config
