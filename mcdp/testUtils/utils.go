package testUtils

import (
	"context"
	"fmt"
	"os"
	"testing"

	randomdata "github.com/Pallinder/go-randomdata"
	"github.com/otiai10/copy"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/crosbyhealth/mcdp-app/conf"
)

// CtxMatcher allow us to validate that the caller supplied a context.Context argument
// See: https://github.com/stretchr/testify/issues/519
var CtxMatcher = mock.MatchedBy(func(ctx context.Context) bool { return true })

// RandomMBI returns an 11 character Medicare beneficiary identifier.
func RandomMBI() string {
	return fmt.Sprintf("%d%s", randomdata.Number(1, 10), randomdata.Alphanumeric(10))
}

// RandomNPI returns a 10 digit national provider identifier.
func RandomNPI() string {
	return randomdata.StringNumberExt(1, "", 10)
}

// RandomClaimNumber returns a claim control number in the upstream format.
func RandomClaimNumber() string {
	return "CLM" + randomdata.StringNumberExt(1, "", 11)
}

// SetAndRestoreEnvKey replaces the current value of the env var key,
// returning a function which can be used to restore the original value
func SetAndRestoreEnvKey(t *testing.T, key, value string) func() {
	originalValue := conf.GetEnv(key)
	if err := conf.SetEnv(t, key, value); err != nil {
		t.Fatalf("failed to set env value %s to %s: %s", key, value, err)
	}
	return func() {
		if err := conf.SetEnv(t, key, originalValue); err != nil {
			t.Logf("failed to restore env value %s: %s", key, err)
		}
	}
}

// SetPendingDeletionDir sets PENDING_DELETION_DIR to the supplied path and
// ensures that the directory is created.
func SetPendingDeletionDir(s suite.Suite, path string) {
	if err := conf.SetEnv(s.T(), "PENDING_DELETION_DIR", path); err != nil {
		s.FailNow("failed to set the PENDING_DELETION_DIR env variable,", err)
	}
	if err := os.MkdirAll(path, 0744); err != nil {
		s.FailNow("failed to create the pending deletion directory, %s", err.Error())
	}
}

// CopyToTemporaryDirectory copies all of the content found at src into a temporary directory.
// The path to the temporary directory is returned along with a function that can be called to clean up the data.
func CopyToTemporaryDirectory(t *testing.T, src string) (string, func()) {
	newPath, err := os.MkdirTemp("", "*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory %s", err.Error())
	}

	if err = copy.Copy(src, newPath); err != nil {
		t.Fatalf("Failed to copy contents from %s to %s %s", src, newPath, err.Error())
	}

	cleanup := func() {
		if err := os.RemoveAll(newPath); err != nil {
			t.Logf("Failed to cleanup data %s", err.Error())
		}
	}

	return newPath, cleanup
}
