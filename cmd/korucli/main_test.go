package main

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"korucli": func() int {
			return korucli(os.Args[1:], os.Stdout, os.Stderr)
		},
	}))
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata/script",
		Setup: func(env *testscript.Env) error {
			env.Setenv("KORU_FPS", "0")
			env.Setenv("KORU_LOG_LEVEL", "warning")
			env.Setenv("KORU_BACKEND", "soft")
			return nil
		},
	})
}
