package floe

import (
	"time"

	"github.com/leonunix/floe/internal/util"
)

// IndexNamer maps a logical index name to concrete write and read targets.
type IndexNamer struct {
	Default string
	Rolling bool
	Now     func() time.Time
}

// WriteIndex returns the index to write to: override (or Default), with a
// -YYYY.MM.DD UTC suffix when rolling. The date is taken on every call, so
// writes around midnight UTC land in different indices.
func (n IndexNamer) WriteIndex(override string) string {
	name := n.base(override)
	if !n.Rolling {
		return name
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return name + "-" + util.DateSuffix(now())
}

// ReadIndex returns the wildcard pattern covering every rolling member.
func (n IndexNamer) ReadIndex(override string) string {
	return n.base(override) + "*"
}

func (n IndexNamer) base(override string) string {
	if override != "" {
		return override
	}
	return n.Default
}
