// Package sinks contains Sink implementations fed by the progress hub.
package sinks
