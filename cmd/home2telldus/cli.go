package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/AndreCAndersen/home2telldus/internal/gateway"
)

type command struct {
	name       string
	configPath string
	args       gateway.Args
}

const usage = `usage: home2telldus [server|run|devices] [flags]

  server   run the HTTP gateway (default)
  run      send one command: -device NAME -command on|off [-repeat N] [-sleep S]
  devices  list the account's devices

Credentials come from -secret, or -email/-password, falling back to
H2T_EMAIL/H2T_PASSWORD.`

// parseCommand splits argv into a subcommand and the same argument set the
// HTTP API accepts. Flags left unset are omitted so defaults apply.
func parseCommand(argv []string) (command, error) {
	name := "server"
	if len(argv) > 0 && len(argv[0]) > 0 && argv[0][0] != '-' {
		name, argv = argv[0], argv[1:]
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd := command{name: name, args: gateway.Args{}}
	fs.StringVar(&cmd.configPath, "config", "", "path to a YAML config file (or $CONFIG_FILE)")

	var strs map[string]*string
	switch name {
	case "server":
	case "run", "devices":
		strs = map[string]*string{
			"secret":   fs.String("secret", "", "server secret"),
			"email":    fs.String("email", "", "Telldus Live email"),
			"password": fs.String("password", "", "Telldus Live password"),
		}
		if name == "run" {
			strs["device"] = fs.String("device", "", "device name, matched exactly")
			strs["command"] = fs.String("command", "", "on or off")
			strs["repeat"] = fs.String("repeat", "", "times to send the command, 1-"+strconv.Itoa(gateway.MaxRepeat))
			strs["sleep"] = fs.String("sleep", "", "seconds between repeats, 0-2")
		}
	default:
		return command{}, fmt.Errorf("unknown command %q\n%s", name, usage)
	}

	if err := fs.Parse(argv); err != nil {
		return command{}, fmt.Errorf("%w\n%s", err, usage)
	}
	if fs.NArg() > 0 {
		return command{}, fmt.Errorf("unexpected arguments %v\n%s", fs.Args(), usage)
	}
	for k, v := range strs {
		if *v != "" {
			cmd.args[k] = *v
		}
	}
	return cmd, nil
}
