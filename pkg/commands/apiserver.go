package commands

import (
	"fmt"

	"github.com/is-app/dnsdesk/pkg/apiserver"
	"github.com/is-app/dnsdesk/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

type apiServerCommand struct{}

func (s *apiServerCommand) Execute(c *cli.Context) error {
	ctx := signalContext()

	log := logrus.WithField("command", "api-server")

	log.Infof("version: %v", version.Get())

	secret := c.String("auth-secret")
	if secret == "" {
		return fmt.Errorf("auth-secret must be provided")
	}

	rt, err := newServices(ctx, c, true)
	if err != nil {
		return err
	}
	defer rt.close()

	apiServer := apiserver.NewAPIServer(ctx, log, apiserver.Config{
		Port:        c.Int("port"),
		AuthSecret:  []byte(secret),
		ReminderAge: c.Duration("reminder-age"),
	})

	if err := apiServer.Start(rt.backend, rt.purger); err != nil {
		return err
	}

	return nil
}

func authSecretFlag() cli.Flag {
	return altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "auth-secret",
		Usage:   "HMAC secret the host platform signs caller tokens with",
		EnvVars: []string{"DNSDESK_AUTH_SECRET", "AUTH_SECRET"},
	})
}

func serverCommand() *cli.Command {
	cmd := apiServerCommand{}

	flags := withBackendFlags([]cli.Flag{
		altsrc.NewIntFlag(&cli.IntFlag{
			Name:    "port",
			Usage:   "Port for the HTTP Server Port",
			EnvVars: []string{"DNSDESK_PORT", "PORT"},
			Value:   4315,
		}),
		authSecretFlag(),
	})

	return &cli.Command{
		Name:   "api-server",
		Usage:  "dnsdesk api server",
		Action: cmd.Execute,
		Flags:  flags,
		Before: before(flags),
	}
}
