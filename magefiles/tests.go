//go:build mage
// +build mage

package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

var Gotestsum string

var LocalBin = filepath.Join(os.Getenv("PWD"), "/bin")

func makeLocalBin() error {
	if _, err := os.Stat(LocalBin); os.IsNotExist(err) {
		return os.MkdirAll(LocalBin, os.ModePerm)
	}
	return nil
}

// gotestsum downloads gotestsum locally if necessary
func gotestsum() error {
	mg.Deps(makeLocalBin)
	Gotestsum = filepath.Join(LocalBin, binaryWithExt("gotestsum"))

	if _, err := os.Stat(Gotestsum); os.IsNotExist(err) {
		fmt.Println(Gotestsum)
		cmd := exec.Command(goBinary(), "install", "gotest.tools/gotestsum@v1.8.2")
		cmd.Env = append(os.Environ(), "GOBIN="+LocalBin)
		return cmd.Run()
	}
	return nil
}

// Tests runs the tests and writes coverage reports to test_reports.
func Tests() error {
	mg.Deps(gotestsum, goCheck, gccCheck)
	if err := os.MkdirAll("test_reports", os.ModePerm); err != nil {
		return err
	}

	if err := runtest("internal_coverage.xml", "internal.txt", "./internal/..."); err != nil {
		return err
	}
	return runtest("cmd_coverage.xml", "cmd.txt", "./cmd/...")
}

func runtest(coverageFileName, outputFileName string, args ...string) error {
	cmdArgs := []string{"--", "-v", "-count=1"}
	if coverageFileName != "" {
		cmdArgs = append(cmdArgs, "-coverprofile", filepath.Join("test_reports", coverageFileName))
	}
	cmdArgs = append(cmdArgs, args...)

	if err := os.MkdirAll("test_reports", os.ModePerm); err != nil {
		return err
	}
	file, err := os.Create(filepath.Join("test_reports", outputFileName))
	if err != nil {
		return err
	}
	defer file.Close()

	cmd := exec.Command(Gotestsum, cmdArgs...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	cmd.Stdout = io.MultiWriter(os.Stdout, file)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
