// Package health implements the TCP and DNS checks run against each Pi-hole
// node.
package health
