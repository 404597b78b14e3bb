/*
Package config loads process configuration from the environment.

Load applies documented defaults for anything unset; Validate checks
the invariants a serving process depends on before listeners start.
*/
package config
