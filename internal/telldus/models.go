package telldus

import (
	"encoding/json"
	"strings"

	"github.com/AndreCAndersen/home2telldus/internal/apperrors"
)

type Credentials struct {
	Email    string
	Password string
}

// Device is a Telldus Live device as listed by /device/list.
type Device struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// RemoteClient is a Telldus gateway box ("client" in Telldus Live terms).
type RemoteClient struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// Method codes understood by /device/command.
const (
	MethodOn  = 1
	MethodOff = 2
)

var methods = map[string]int{
	"on":  MethodOn,
	"off": MethodOff,
}

// MethodFor maps a command name to its Telldus method code.
func MethodFor(command string) (int, error) {
	m, ok := methods[command]
	if !ok {
		return 0, apperrors.UnknownCommand()
	}
	return m, nil
}

// Commands returns the supported command names.
func Commands() []string {
	return []string{"on", "off"}
}

// Telldus Live is loose about JSON types: ids come as strings or numbers and
// online flags as "1"/"0", 1/0 or booleans.

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = flexBool(t)
	case float64:
		*f = t != 0
	case string:
		t = strings.TrimSpace(strings.ToLower(t))
		*f = t == "1" || t == "true"
	default:
		*f = false
	}
	return nil
}

type wireEntity struct {
	ID     flexString `json:"id"`
	Name   string     `json:"name"`
	Online flexBool   `json:"online"`
}

type deviceListResponse struct {
	Device []wireEntity `json:"device"`
	Error  string       `json:"error"`
}

type clientListResponse struct {
	Client []wireEntity `json:"client"`
	Error  string       `json:"error"`
}

func (e wireEntity) device() Device {
	return Device{ID: string(e.ID), Name: e.Name, Online: bool(e.Online)}
}

func (e wireEntity) remoteClient() RemoteClient {
	return RemoteClient{ID: string(e.ID), Name: e.Name, Online: bool(e.Online)}
}
