// Package repl implements the line-oriented command loop shared by the local shell and
// the TCP server.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"heapdb/pkg/config"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type ReplCommand func(string, *REPLConfig) (output string, err error)

const (
	// Trigger for the help meta-command that prints out all help strings
	TriggerHelpMetacommand = ".help"

	// String that should be prepended to any error before being sent to the output writer
	ErrorPrependStr = "ERROR: "
)

var (
	// Returned by CombineRepls when two REPLs share a trigger
	ErrOverlappingCommands = errors.New("found overlapping")

	// Error for when a sent trigger is not associated with any known commands
	ErrCommandNotFound = errors.New("command not found")

	// Returned by AddCommand for triggers the REPL handles itself
	ErrReservedTrigger = errors.New("trigger is reserved")
)

// REPL struct.
type REPL struct {
	commands map[string]ReplCommand
	help     map[string]string
}

// REPL Config struct.
type REPLConfig struct {
	clientId uuid.UUID
}

// Construct a config for the given client.
func NewREPLConfig(clientId uuid.UUID) *REPLConfig {
	return &REPLConfig{clientId: clientId}
}

// Get address.
func (replConfig *REPLConfig) GetAddr() uuid.UUID {
	return replConfig.clientId
}

// Construct an empty REPL.
func NewRepl() *REPL {
	return &REPL{make(map[string]ReplCommand), make(map[string]string)}
}

// Combines a slice of REPLs. Errors if the REPLs being combined share a trigger.
func CombineRepls(repls []*REPL) (*REPL, error) {
	combined := NewRepl()
	for _, r := range repls {
		for trigger, action := range r.commands {
			if _, exists := combined.commands[trigger]; exists {
				return nil, errors.Wrapf(ErrOverlappingCommands, "trigger %q", trigger)
			}
			combined.commands[trigger] = action
			combined.help[trigger] = r.help[trigger]
		}
	}
	return combined, nil
}

// Get commands.
func (r *REPL) GetCommands() map[string]ReplCommand {
	return r.commands
}

// Get help.
func (r *REPL) GetHelp() map[string]string {
	return r.help
}

// Add a command, along with its help string, to the set of commands. A duplicate
// trigger overwrites the previous command.
func (r *REPL) AddCommand(trigger string, action ReplCommand, help string) error {
	if trigger == TriggerHelpMetacommand {
		return ErrReservedTrigger
	}
	r.commands[trigger] = action
	r.help[trigger] = help
	return nil
}

// Return all REPL commands' help strings as one string, sorted by trigger.
func (r *REPL) HelpString() string {
	triggers := make([]string, 0, len(r.help))
	for k := range r.help {
		triggers = append(triggers, k)
	}
	sort.Strings(triggers)
	var sb strings.Builder
	for _, k := range triggers {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, r.help[k]))
	}
	return sb.String()
}

// Execute runs a single line of input and returns what should be written back.
func (r *REPL) Execute(payload string, replConfig *REPLConfig) string {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return ""
	}
	trigger := fields[0]
	if trigger == TriggerHelpMetacommand {
		return r.HelpString()
	}
	command, exists := r.commands[trigger]
	if !exists {
		return fmt.Sprintf("%s%s\n", ErrorPrependStr, ErrCommandNotFound)
	}
	result, err := command(payload, replConfig)
	if err != nil {
		return fmt.Sprintf("%s%s\n", ErrorPrependStr, err)
	}
	// Append newline if there is output and if it doesn't end with a newline already
	if len(result) != 0 && !strings.HasSuffix(result, "\n") {
		result = result + "\n"
	}
	return result
}

// Writes the welcome string and then runs the REPL loop until input is exhausted.
// Input and output default to stdin and stdout.
func (r *REPL) Run(clientId uuid.UUID, prompt string, input io.Reader, output io.Writer) {
	if input == nil {
		input = os.Stdin
	}
	if output == nil {
		output = os.Stdout
	}

	scanner := bufio.NewScanner(input)
	replConfig := NewREPLConfig(clientId)
	fmt.Fprintf(output, "Welcome to the %s REPL! Please type '%s' to see the list of available commands.\n",
		config.DBName, TriggerHelpMetacommand)
	io.WriteString(output, prompt)
	for scanner.Scan() {
		io.WriteString(output, r.Execute(scanner.Text(), replConfig))
		io.WriteString(output, prompt)
	}
	// Print an additional line if we encountered an EOF character.
	io.WriteString(output, "\n")
}

// RunChan runs the REPL on payloads received from c, echoing each to output, until c
// is closed. Used by the stress driver to replay workloads.
func (r *REPL) RunChan(c chan string, clientId uuid.UUID, prompt string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	replConfig := NewREPLConfig(clientId)
	io.WriteString(output, prompt)
	for payload := range c {
		io.WriteString(output, payload+"\n")
		io.WriteString(output, r.Execute(payload, replConfig))
		io.WriteString(output, prompt)
	}
	io.WriteString(output, "\n")
}
