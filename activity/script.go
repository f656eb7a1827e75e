package activity

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
)

// Command is one exe-script instruction. The wire format is a JSON list
// of single-key objects, the key naming the instruction.
type Command struct {
	Name string
	Args interface{}
}

func Deploy() Command {
	return Command{Name: "deploy", Args: map[string]interface{}{}}
}

func Start() Command {
	return Command{Name: "start", Args: map[string]interface{}{}}
}

// Run executes an entry point with arguments, capturing stdout/stderr at
// the end of the run.
func Run(entryPoint string, args ...string) Command {
	if args == nil {
		args = []string{}
	}
	return Command{Name: "run", Args: map[string]interface{}{
		"entry_point": entryPoint,
		"args":        args,
		"capture": map[string]interface{}{
			"stdout": map[string]interface{}{"atEnd": map[string]interface{}{"format": "str"}},
			"stderr": map[string]interface{}{"atEnd": map[string]interface{}{"format": "str"}},
		},
	}}
}

// RunShell executes a command line through /bin/sh.
func RunShell(commandLine string) Command {
	return Run("/bin/sh", "-c", commandLine)
}

// Transfer moves a resource between provider and requestor storage URLs.
func Transfer(from, to string) Command {
	return Command{Name: "transfer", Args: map[string]interface{}{"from": from, "to": to}}
}

func Terminate() Command {
	return Command{Name: "terminate", Args: map[string]interface{}{}}
}

// Script is an ordered exe-script batch.
type Script struct {
	commands []Command
}

func NewScript(commands ...Command) *Script {
	return &Script{commands: commands}
}

func (s *Script) Add(cmd Command) *Script {
	s.commands = append(s.commands, cmd)
	return s
}

func (s *Script) Len() int {
	return len(s.commands)
}

// Request serializes the script into the daemon's exe-script format.
func (s *Script) Request() (api.ExeScriptRequest, error) {
	if len(s.commands) == 0 {
		return api.ExeScriptRequest{}, xerrors.New("empty exe-script")
	}
	batch := make([]map[string]interface{}, 0, len(s.commands))
	for _, cmd := range s.commands {
		batch = append(batch, map[string]interface{}{cmd.Name: cmd.Args})
	}
	text, err := json.Marshal(batch)
	if err != nil {
		return api.ExeScriptRequest{}, xerrors.Errorf("serializing exe-script: %w", err)
	}
	return api.ExeScriptRequest{Text: string(text)}, nil
}
