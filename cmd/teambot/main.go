package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/ourgoal/teambot/app/bot"
	corecmd "github.com/ourgoal/teambot/core/cmd"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        bot.LoadConfig,
		Bootstrap:         bot.Bootstrap,
	})
	if err != nil {
		log.Fatalf("teambot: %v", err)
	}
}
