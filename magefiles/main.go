//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const buildPackage = "github.com/hepmr/hepmr/internal/build"

// Check dependent tools are present and the correct version.
func CheckDeps() error {
	checks := []struct {
		name  string
		check func() error
	}{
		{"go", goCheck},
		{"gcc", gccCheck},
		{"golangci-lint", golangciLintCheck},
	}
	failures := false
	for _, check := range checks {
		fmt.Printf("Checking %s... ", check.name)
		if err := check.check(); err != nil {
			fmt.Printf("FAILED\nReason: %v\n", err)
			failures = true
		} else {
			fmt.Println("PASSED")
		}
	}
	if failures {
		return errors.New("check(s) failed.")
	}
	return nil
}

// Removes build outputs and test reports.
func Clean() {
	fmt.Println("Cleaning...")
	for _, path := range []string{"bin", "test_reports"} {
		os.RemoveAll(path)
	}
}

// Builds bin/hepmr with version information.  The duckdb driver needs cgo.
func Build() error {
	mg.Deps(goCheck, gccCheck, makeLocalBin)
	timeTaken := time.Now()

	ldflags, err := versionLdflags()
	if err != nil {
		return err
	}
	env := map[string]string{"CGO_ENABLED": "1"}
	output := filepath.Join(LocalBin, binaryWithExt("hepmr"))
	if err := sh.RunWith(env, goBinary(), "build", "-ldflags", ldflags, "-o", output, "./cmd/hepmr"); err != nil {
		return err
	}
	fmt.Println("Time to build hepmr:", time.Since(timeTaken))
	return nil
}

func versionLdflags() (string, error) {
	version := os.Getenv("HEPMR_VERSION")
	if version == "" {
		version = "dev"
	}
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil {
		commit = "unknown"
	}
	goVersion, err := goOutput("env", "GOVERSION")
	if err != nil {
		return "", err
	}
	flags := []string{
		fmt.Sprintf("-X %s.ReleaseVersion=%s", buildPackage, version),
		fmt.Sprintf("-X %s.GitCommit=%s", buildPackage, commit),
		fmt.Sprintf("-X %s.BuildTime=%s", buildPackage, time.Now().UTC().Format(time.RFC3339)),
		fmt.Sprintf("-X %s.GoVersion=%s", buildPackage, goVersion),
	}
	return strings.Join(flags, " "), nil
}
