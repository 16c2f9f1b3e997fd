package main

import (
	"github.com/RazmikUnanyan/razmik-chat/cmd"
	"github.com/RazmikUnanyan/razmik-chat/internal/logging"
	"github.com/RazmikUnanyan/razmik-chat/internal/version"
)

func main() {
	// Commands re-initialise logging once their config is loaded.
	logging.Init(logging.Config{Service: "razmik", Version: version.Version})
	cmd.Execute()
}
