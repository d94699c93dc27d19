//go:build !debug

// Package xdebug provides build-tag-gated assertions, adapted from the
// teacher's cmn/debug: a no-op build (this file) and a debug build
// (debug_on.go) that actually panics on violated invariants.
package xdebug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func Func(_ func())                      {}
