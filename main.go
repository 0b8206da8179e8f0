package main

import (
	"os"
	"path"

	"github.com/is-app/dnsdesk/pkg/commands"
	"github.com/is-app/dnsdesk/pkg/version"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			// log panics forces exit
			if _, ok := r.(*logrus.Entry); ok {
				os.Exit(1)
			}
			panic(r)
		}
	}()

	// A missing .env file is fine, flags and the environment still apply.
	_ = godotenv.Load()

	app := cli.NewApp()
	app.Name = path.Base(os.Args[0])
	app.Usage = "Self-service DNS records under a shared zone, approved by an admin"
	app.Version = version.Get().String()

	app.Commands = commands.GetCommands()
	app.CommandNotFound = func(context *cli.Context, command string) {
		logrus.Fatalf("Command %s not found.", command)
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
