//go:build tools

// Package linkchat tracks the code generators used by go generate so that
// go.mod pins their versions.
package linkchat

import (
	_ "go.uber.org/mock/mockgen"
)
