// Package store holds the latest report of every test cell in memory.
package store
