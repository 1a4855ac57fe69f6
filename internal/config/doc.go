// Package config loads, normalizes, and validates papersift configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks such as OPENAI_API_KEY, PAPERS_DB_PATH and
// MAX_WORKERS. The Config type centralizes every knob the pipeline and CLI
// need so the corpus, ledger and oracle settings are discovered in one pass.
package config
