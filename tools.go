// +build tools

package main

import (
	// test dependencies
	_ "github.com/securego/gosec/cmd/gosec"
	_ "gotest.tools/gotestsum"
	// end test dependencies
)
