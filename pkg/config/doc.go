// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Configuration structs are declared next to the package they configure
// and loaded once per type at startup:
//
//	var cfg httpserver.Config
//	config.MustLoad(&cfg)
package config
