//go:build test

package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/bleready/internal/devicefactory"
	"github.com/srg/bleready/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	testServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	testCharUUID    = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

// CommandTestSuite runs commands against a mocked platform.
// All cmd/bleready test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Builder *testutils.PlatformBuilder

	originalFactory func(string, *logrus.Logger) (devicefactory.Platform, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Builder = testutils.NewPlatformBuilder().
		WithPeripheral("PowerMeter-01", "aa:bb:cc:dd:ee:ff").
		WithService(testServiceUUID).
		WithCharacteristic(testCharUUID)

	s.originalFactory = devicefactory.PlatformFactory
	devicefactory.PlatformFactory = func(string, *logrus.Logger) (devicefactory.Platform, error) {
		if s.Builder.Platform() == nil {
			s.Builder.Build()
		}
		return devicefactory.Wrap(s.Builder.Platform()), nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.PlatformFactory = s.originalFactory
	resetCommandFlags(rootCmd)
	rootCmd.SetIn(nil)
}

// ExecuteCommand runs the root command with args and returns everything
// written to its output
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandWithKeys(nil, args...)
}

// ExecuteCommandWithKeys is ExecuteCommand with keyboard input; keys may
// wait on the output produced so far
func (s *CommandTestSuite) ExecuteCommandWithKeys(keys func(out *SyncBuffer) *KeyScript, args ...string) (string, error) {
	resetCommandFlags(rootCmd)
	buf := &SyncBuffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if keys != nil {
		rootCmd.SetIn(keys(buf))
	} else {
		rootCmd.SetIn(strings.NewReader(""))
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetCommandFlags restores every flag to its default so package-level flag
// variables do not leak between tests
func resetCommandFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetCommandFlags(sub)
	}
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers and readers
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// KeyScript feeds keys to a command one at a time. Each key is released only
// once its condition holds; the script ends with io.EOF.
type KeyScript struct {
	steps []keyStep
}

type keyStep struct {
	key  byte
	when func() bool
}

// Key appends a key that is pressed once when holds, or at once if when is nil
func (k *KeyScript) Key(key byte, when func() bool) *KeyScript {
	k.steps = append(k.steps, keyStep{key: key, when: when})
	return k
}

func (k *KeyScript) Read(p []byte) (int, error) {
	if len(k.steps) == 0 {
		return 0, io.EOF
	}
	step := k.steps[0]
	k.steps = k.steps[1:]

	if step.when != nil {
		deadline := time.Now().Add(2 * time.Second)
		for !step.when() {
			if time.Now().After(deadline) {
				return 0, errors.New("key script: condition not met")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	p[0] = step.key
	return 1, nil
}

// OutputContains is a KeyScript condition on command output
func OutputContains(buf *SyncBuffer, text string) func() bool {
	return func() bool { return strings.Contains(buf.String(), text) }
}
