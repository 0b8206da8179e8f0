package commands

import (
	"fmt"
	"time"

	"github.com/is-app/dnsdesk/pkg/auth"
	"github.com/urfave/cli/v2"
)

// mintToken signs a caller token the way the host platform does. Useful for operators and
// local testing.
func mintToken(c *cli.Context) error {
	secret := c.String("auth-secret")
	if secret == "" {
		return fmt.Errorf("auth-secret must be provided")
	}

	role := ""
	if c.Bool("admin") {
		role = auth.RoleAdmin
	}

	token, err := auth.Sign([]byte(secret), c.String("subject"), role, c.Duration("ttl"))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, token)
	return nil
}

func tokenCommand() *cli.Command {
	flags := append([]cli.Flag{
		authSecretFlag(),
		&cli.StringFlag{
			Name:     "subject",
			Usage:    "User id the token is issued to",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "admin",
			Usage: "Grant the admin role",
		},
		&cli.DurationFlag{
			Name:  "ttl",
			Usage: "Token lifetime",
			Value: 24 * time.Hour,
		},
	}, GlobalFlags()...)

	return &cli.Command{
		Name:   "token",
		Usage:  "mint a caller token",
		Action: mintToken,
		Flags:  flags,
		Before: before(flags),
	}
}
