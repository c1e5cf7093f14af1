package main

import "github.com/dawidpereira/quetty/internal/config"

func newTestConfig() config.Config {
	return config.Defaults()
}
