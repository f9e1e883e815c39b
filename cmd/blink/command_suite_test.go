package main

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blink/internal/central"
	"github.com/srg/blink/internal/testutils"
)

// Test device IDs for consistent stub device identification
const (
	testDeviceID1 = "aa:bb:cc:dd:ee:01"
	testDeviceID2 = "aa:bb:cc:dd:ee:02"
)

// CommandTestSuite carries the stub adapter wiring shared by all command
// suites. Every test gets a fresh stub routed through the newAdapter
// factory; the production factory is restored when the suite ends.
type CommandTestSuite struct {
	suite.Suite
	adapter         *testutils.StubAdapter
	originalAdapter func(*logrus.Logger) central.Adapter
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalAdapter = newAdapter
}

func (s *CommandTestSuite) TearDownSuite() {
	newAdapter = s.originalAdapter
}

func (s *CommandTestSuite) SetupTest() {
	s.adapter = testutils.NewStubAdapter()
	newAdapter = func(*logrus.Logger) central.Adapter { return s.adapter }
}

// newTestRoot builds a root command with the same persistent flags main()
// registers, so subcommands resolve --log-level/--verbose/--config the way
// they do in production.
func newTestRoot(sub *cobra.Command) *cobra.Command {
	root := &cobra.Command{Use: "blink"}
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level debug")
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.AddCommand(sub)
	return root
}

// executeCommand runs a cobra command with args, returns combined output and error.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	return executeCommandContext(context.Background(), root, args...)
}

// executeCommandContext is executeCommand with a caller-controlled context,
// for commands that run until cancelled.
func executeCommandContext(ctx context.Context, root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

// countCalls counts adapter log entries with the given prefix.
func countCalls(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// syncBuffer is a buffer safe for concurrent writers and readers, for tests
// that inspect command output while the command is still running.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
