// Package config loads process settings from the environment, with an
// optional .env file loaded first via github.com/joho/godotenv and parsing
// delegated to github.com/caarlos0/env.
package config
