package commands

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const cliActor = "cli"

func sweep(c *cli.Context) error {
	ctx := signalContext()

	rt, err := newServices(ctx, c, false)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.purger.TrySweep(ctx, cliActor)
	if err != nil {
		return err
	}

	logrus.WithField("command", "sweep").Infof("deleted %d pending records created before %s", len(result.Deleted), result.Cutoff)

	names := make([]string, 0, len(result.Deleted))
	for _, r := range result.Deleted {
		names = append(names, r.Name)
	}
	return json.NewEncoder(c.App.Writer).Encode(map[string]interface{}{
		"count":   len(names),
		"cutoff":  result.Cutoff,
		"deleted": names,
	})
}

func remind(c *cli.Context) error {
	ctx := signalContext()

	rt, err := newServices(ctx, c, false)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.backend.RemindStale(ctx, cliActor, c.Duration("reminder-age"))
	if err != nil {
		return err
	}

	logrus.WithField("command", "remind").Infof("reminders sent: %d, failed: %d", result.Sent, result.Failed)
	return json.NewEncoder(c.App.Writer).Encode(result)
}

func sweepCommand() *cli.Command {
	flags := withBackendFlags()
	return &cli.Command{
		Name:   "sweep",
		Usage:  "delete pending records older than the retention once and exit",
		Action: sweep,
		Flags:  flags,
		Before: before(flags),
	}
}

func remindCommand() *cli.Command {
	flags := withBackendFlags()
	return &cli.Command{
		Name:   "remind",
		Usage:  "remind owners of old pending records once and exit",
		Action: remind,
		Flags:  flags,
		Before: before(flags),
	}
}
