package main

import (
	"errors"
	"os"

	cmd "github.com/MrSnakeDoc/chiron/internal"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/middleware"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, middleware.ErrLogged) {
			logger.LogError("%s", err.Error())
		}
		os.Exit(1)
	}
}
