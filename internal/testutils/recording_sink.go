//go:build test

package testutils

import "sync"

// RecordingSink keeps the latest status and control state and every console line.
type RecordingSink struct {
	mu          sync.Mutex
	status      string
	statuses    []string
	console     []string
	label       string
	sendEnabled bool
}

func (s *RecordingSink) SetStatus(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = text
	s.statuses = append(s.statuses, text)
}

func (s *RecordingSink) AppendConsole(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = append(s.console, line)
}

func (s *RecordingSink) SetToggleLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
}

func (s *RecordingSink) SetSendEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendEnabled = enabled
}

// Statuses returns every status set so far, oldest first
func (s *RecordingSink) Statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

func (s *RecordingSink) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Console returns a copy of all console lines so far
func (s *RecordingSink) Console() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.console...)
}

func (s *RecordingSink) ToggleLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

func (s *RecordingSink) SendEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendEnabled
}

