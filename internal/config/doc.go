// Package config loads and validates enhancement run configuration.
//
// Configuration layers, in order of precedence:
//
//  1. Environment variables with the MICROFIT_ prefix
//  2. A config.yaml file found in the working directory or configs/
//  3. Struct tag defaults
//
// A loaded Config is treated as immutable for the lifetime of a run;
// per-stage settings are copied into the stage packages' own config
// structs at startup.
package config
