//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binary = "transbench"

// Default target to run when none is specified
var Default = Build

// Build compiles the transbench binary
func Build() error {
	fmt.Println("Building", binary)
	return sh.RunV("go", "build", "-o", binary, "./cmd/transbench")
}

// Test runs all tests with the race detector
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Vet runs go vet
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Check runs vet and the tests
func Check() {
	mg.SerialDeps(Vet, Test)
}

// Install builds and installs the binary into GOPATH/bin
func Install() error {
	mg.Deps(Build)
	return sh.RunV("go", "install", "./cmd/transbench")
}

// Clean removes the binary and generated outputs
func Clean() error {
	for _, path := range []string{binary, "outputs", "logs"} {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}
