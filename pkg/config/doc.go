// Package config resolves deployment settings from the environment,
// optionally seeded from a .env file. Command-line flags override
// whatever is resolved here.
package config
