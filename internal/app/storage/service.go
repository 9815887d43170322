/*
Package storage archives failed persistence calls to S3-compatible object storage so they can
be reconciled by hand. Each failure becomes one JSON object.
*/
package storage

import (
	"errors"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	BucketName      string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	// Prefix is prepended to every object key; defaults to DefaultPrefix.
	Prefix string
}

// DefaultPrefix is the key prefix of archived failures.
const DefaultPrefix = "deadletter"

// ErrNotConfigured is returned when no bucket is configured.
var ErrNotConfigured = errors.New("dead-letter storage is not configured")

// Enabled reports whether a bucket has been configured.
func (c ServiceConfig) Enabled() bool {
	return c.BucketName != ""
}
