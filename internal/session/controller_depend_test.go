// Code generated by dependgen — DO NOT EDIT.
//go:build test

package session_test

import "github.com/srgg/testify/depend"

var ControllerTestSuiteTestRegistry = map[string]func(any){
	"TestNewController":           func(s any) { s.(*ControllerTestSuite).TestNewController() },
	"TestConnect":                 func(s any) { s.(*ControllerTestSuite).TestConnect() },
	"TestConnectFailure":          func(s any) { s.(*ControllerTestSuite).TestConnectFailure() },
	"TestHandleNotification":      func(s any) { s.(*ControllerTestSuite).TestHandleNotification() },
	"TestFraming":                 func(s any) { s.(*ControllerTestSuite).TestFraming() },
	"TestSendReady":               func(s any) { s.(*ControllerTestSuite).TestSendReady() },
	"TestDisconnect":              func(s any) { s.(*ControllerTestSuite).TestDisconnect() },
	"TestToggle":                  func(s any) { s.(*ControllerTestSuite).TestToggle() },
	"TestLinkLoss":                func(s any) { s.(*ControllerTestSuite).TestLinkLoss() },
	"TestLinkLossWhileConnecting": func(s any) { s.(*ControllerTestSuite).TestLinkLossWhileConnecting() },
	"TestClose":                   func(s any) { s.(*ControllerTestSuite).TestClose() },
}

var ControllerTestSuiteTestOrder = []string{
	"TestNewController",
	"TestConnect",
	"TestConnectFailure",
	"TestHandleNotification",
	"TestFraming",
	"TestSendReady",
	"TestDisconnect",
	"TestToggle",
	"TestLinkLoss",
	"TestLinkLossWhileConnecting",
	"TestClose",
}

var ControllerTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	dep.On("TestConnect", "TestNewController")
	dep.On("TestConnectFailure", "TestNewController")
	dep.On("TestHandleNotification", "TestConnect")
	dep.On("TestFraming", "TestHandleNotification")
	dep.On("TestSendReady", "TestConnect")
	dep.On("TestDisconnect", "TestConnect")
	dep.On("TestToggle", "TestDisconnect")
	dep.On("TestLinkLoss", "TestConnect")
	dep.On("TestLinkLossWhileConnecting", "TestLinkLoss")
	dep.On("TestClose", "TestConnect")
	return dep
})

// GeneratedDependConfig returns the dependency configuration for ControllerTestSuite.
// This method allows ControllerTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *ControllerTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: ControllerTestSuiteTestRegistry,
		Order:    ControllerTestSuiteTestOrder,
		Deps:     ControllerTestSuiteDependencies,
	}
}
