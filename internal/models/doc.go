// Package models caches loaded acoustic models, one per locale.
package models
