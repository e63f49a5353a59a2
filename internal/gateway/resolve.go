package gateway

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/AndreCAndersen/home2telldus/internal/apperrors"
	"github.com/AndreCAndersen/home2telldus/internal/telldus"
)

const (
	DefaultRepeat = 4
	MinRepeat     = 1
	MaxRepeat     = 8

	DefaultSleep = 2.0
	MinSleep     = 0.0
	MaxSleep     = 2.0
)

// Args are the raw request arguments, from a query string or a JSON body.
// Missing keys and empty values are treated the same.
type Args map[string]string

func (a Args) Get(key string) string { return strings.TrimSpace(a[key]) }

func (a Args) Has(key string) bool { return a.Get(key) != "" }

// ServerCredentials are read once at startup.
type ServerCredentials struct {
	Secret   string
	Email    string
	Password string
}

type CommandRequest struct {
	Credentials telldus.Credentials
	Device      string
	Command     string
	Repeat      int
	Sleep       time.Duration
}

// credentialSource is one row of the credential decision table.
type credentialSource interface {
	resolve(server ServerCredentials) (telldus.Credentials, error)
}

// secretAuth lets a caller use the server-held account by proving the shared secret.
type secretAuth struct{ secret string }

// directAuth carries the caller's own Telldus account.
type directAuth struct{ email, password string }

func (s secretAuth) resolve(server ServerCredentials) (telldus.Credentials, error) {
	switch {
	case server.Secret == "":
		return telldus.Credentials{}, apperrors.ServerHasNoSecret()
	case subtle.ConstantTimeCompare([]byte(s.secret), []byte(server.Secret)) != 1:
		return telldus.Credentials{}, apperrors.InvalidSecret()
	case server.Email == "":
		return telldus.Credentials{}, apperrors.ServerMissingEmail()
	case server.Password == "":
		return telldus.Credentials{}, apperrors.ServerMissingPassword()
	}
	return telldus.Credentials{Email: server.Email, Password: server.Password}, nil
}

func (d directAuth) resolve(ServerCredentials) (telldus.Credentials, error) {
	switch {
	case d.email == "":
		return telldus.Credentials{}, apperrors.ClientMissingEmail()
	case strings.TrimSpace(d.password) == "":
		return telldus.Credentials{}, apperrors.ClientMissingPassword()
	}
	return telldus.Credentials{Email: d.email, Password: d.password}, nil
}

func sourceFor(args Args) credentialSource {
	if args.Has("secret") {
		return secretAuth{secret: args.Get("secret")}
	}
	return directAuth{email: args.Get("email"), password: args["password"]}
}

// ResolveCredentials picks secret-based or direct credentials, never both.
func ResolveCredentials(args Args, server ServerCredentials) (telldus.Credentials, error) {
	return sourceFor(args).resolve(server)
}

func ParseRepeat(args Args) (int, error) {
	raw := args.Get("repeat")
	if raw == "" {
		return DefaultRepeat, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NotANumber("repeat")
	}
	if n < MinRepeat || n > MaxRepeat {
		return 0, apperrors.InvalidNumber("repeat")
	}
	return n, nil
}

func ParseSleep(args Args) (time.Duration, error) {
	raw := args.Get("sleep")
	f := DefaultSleep
	if raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, apperrors.NotANumber("sleep")
		}
		// NaN fails both comparisons, so check the range positively.
		if !(v >= MinSleep && v <= MaxSleep) {
			return 0, apperrors.InvalidNumber("sleep")
		}
		f = v
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Resolve validates everything that can be checked before talking to Telldus:
// credentials, then device and command presence, then repeat and sleep.
func Resolve(args Args, server ServerCredentials) (CommandRequest, error) {
	creds, err := ResolveCredentials(args, server)
	if err != nil {
		return CommandRequest{}, err
	}
	// Device names are matched exactly later on, so only presence is checked here.
	device := args["device"]
	if strings.TrimSpace(device) == "" {
		return CommandRequest{}, apperrors.ClientMissingDevice()
	}
	command := args["command"]
	if strings.TrimSpace(command) == "" {
		return CommandRequest{}, apperrors.ClientMissingCommand()
	}
	repeat, err := ParseRepeat(args)
	if err != nil {
		return CommandRequest{}, err
	}
	sleep, err := ParseSleep(args)
	if err != nil {
		return CommandRequest{}, err
	}
	return CommandRequest{
		Credentials: creds,
		Device:      device,
		Command:     command,
		Repeat:      repeat,
		Sleep:       sleep,
	}, nil
}
