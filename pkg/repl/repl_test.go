package repl_test

import (
	"strings"
	"testing"

	"heapdb/pkg/repl"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func echoRepl() *repl.REPL {
	r := repl.NewRepl()
	r.AddCommand("echo", func(payload string, cfg *repl.REPLConfig) (string, error) {
		return strings.TrimPrefix(payload, "echo "), nil
	}, "Echo the payload. usage: echo <text>")
	r.AddCommand("whoami", func(payload string, cfg *repl.REPLConfig) (string, error) {
		return cfg.GetAddr().String() + "\n", nil
	}, "Print the client id. usage: whoami")
	return r
}

func TestRepl(t *testing.T) {
	t.Run("Execute", testExecute)
	t.Run("ReservedTrigger", testReservedTrigger)
	t.Run("Combine", testCombine)
	t.Run("Run", testRun)
	t.Run("RunChan", testRunChan)
}

func testExecute(t *testing.T) {
	r := echoRepl()
	id := uuid.New()
	cfg := repl.NewREPLConfig(id)
	require.Equal(t, "hi there\n", r.Execute("echo hi there", cfg))
	require.Equal(t, id.String()+"\n", r.Execute("whoami", cfg))
	require.Empty(t, r.Execute("   ", cfg))
	require.Equal(t, repl.ErrorPrependStr+repl.ErrCommandNotFound.Error()+"\n", r.Execute("nope", cfg))
	require.Equal(t, "echo: Echo the payload. usage: echo <text>\nwhoami: Print the client id. usage: whoami\n",
		r.Execute(repl.TriggerHelpMetacommand, cfg))
}

func testReservedTrigger(t *testing.T) {
	r := repl.NewRepl()
	err := r.AddCommand(repl.TriggerHelpMetacommand, nil, "")
	require.ErrorIs(t, err, repl.ErrReservedTrigger)
	require.Empty(t, r.GetCommands())
}

func testCombine(t *testing.T) {
	other := repl.NewRepl()
	other.AddCommand("ping", func(string, *repl.REPLConfig) (string, error) {
		return "pong", nil
	}, "Reply pong.")
	combined, err := repl.CombineRepls([]*repl.REPL{echoRepl(), other})
	require.NoError(t, err)
	require.Len(t, combined.GetCommands(), 3)
	require.Equal(t, "Reply pong.", combined.GetHelp()["ping"])

	_, err = repl.CombineRepls([]*repl.REPL{echoRepl(), echoRepl()})
	require.ErrorIs(t, err, repl.ErrOverlappingCommands)
}

func testRun(t *testing.T) {
	var out strings.Builder
	echoRepl().Run(uuid.New(), "> ", strings.NewReader("echo a\necho b\n"), &out)
	lines := strings.Split(out.String(), "\n")
	require.Contains(t, lines[0], "Welcome")
	require.Equal(t, "> a", lines[1])
	require.Equal(t, "> b", lines[2])
	require.Equal(t, "> ", lines[3])
}

func testRunChan(t *testing.T) {
	c := make(chan string, 2)
	c <- "echo x"
	c <- "missing"
	close(c)
	var out strings.Builder
	echoRepl().RunChan(c, uuid.New(), "", &out)
	require.Equal(t, "echo x\nx\nmissing\n"+repl.ErrorPrependStr+repl.ErrCommandNotFound.Error()+"\n\n", out.String())
}
