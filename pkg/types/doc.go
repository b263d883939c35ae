// Package types defines the data shared by the monitor, its store and its API.
package types
