package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelp_ListsCommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("execute --help: %v\nOutput:\n%s", err, output)
	}
	for _, name := range []string{"gateway", "console", "status", "version"} {
		if !strings.Contains(output, name) {
			t.Fatalf("root help is missing %q:\n%s", name, output)
		}
	}
	if strings.Contains(output, "completion") {
		t.Fatalf("completion command should be disabled:\n%s", output)
	}
}

func TestCLIHelp_ConsoleFlags(t *testing.T) {
	output, err := runRootCommandForTest("console", "--help")
	if err != nil {
		t.Fatalf("execute console --help: %v", err)
	}
	for _, flag := range []string{"--user", "--nickname", "--group", "--debug"} {
		if !strings.Contains(output, flag) {
			t.Fatalf("console help is missing %s:\n%s", flag, output)
		}
	}
}

func TestCLI_RequiresSubcommand(t *testing.T) {
	if _, err := runRootCommandForTest(); err == nil {
		t.Fatal("expected an error without a subcommand")
	}
}

func TestCLI_Version(t *testing.T) {
	output, err := runRootCommandForTest("version")
	if err != nil {
		t.Fatalf("execute version: %v", err)
	}
	if !strings.HasPrefix(output, appName+" dev") {
		t.Fatalf("unexpected version output %q", output)
	}
}

func TestHandleInput(t *testing.T) {
	var got []string
	submit := func(line string) { got = append(got, line) }

	if handleInput("   ", submit) {
		t.Fatal("blank input should not quit")
	}
	if handleInput("  /p status \n", submit) {
		t.Fatal("command should not quit")
	}
	if !handleInput("quit", submit) {
		t.Fatal("quit should end the session")
	}
	if len(got) != 1 || got[0] != "/p status" {
		t.Fatalf("unexpected submitted lines %q", got)
	}
}

func TestSimpleInteractiveMode_StopsAtEOF(t *testing.T) {
	var got []string
	simpleInteractiveMode(strings.NewReader("/p list\n\n/profile monitors\n"), func(line string) {
		got = append(got, line)
	})
	if len(got) != 2 {
		t.Fatalf("expected two submitted lines, got %q", got)
	}
}
