package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// fxEventLogger routes fx container events through the pipeline logger, so DI
// wiring shows up in the same stream as stage logs. Routine events log at
// debug; only failures surface at error level.
type fxEventLogger struct{}

// NewFxEventLogger returns an fxevent.Logger backed by the package logger.
func NewFxEventLogger() fxevent.Logger {
	return fxEventLogger{}
}

func (fxEventLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		Debugf("Running OnStart hook %s.", hookName(e.FunctionName))
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("OnStart hook %s returned error: %v", hookName(e.FunctionName), e.Err)
		}
	case *fxevent.OnStopExecuting:
		Debugf("Running OnStop hook %s.", hookName(e.FunctionName))
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("OnStop hook %s returned error: %v", hookName(e.FunctionName), e.Err)
		}
	case *fxevent.Supplied:
		if e.Err != nil {
			Errorf("Failed to supply %s: %v", e.TypeName, e.Err)
		} else {
			Debugf("Supplied %s.", e.TypeName)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("Failed to provide constructor %s: %v", hookName(e.ConstructorName), e.Err)
		} else {
			Debugf("Provided %s.", strings.Join(e.OutputTypeNames, ", "))
		}
	case *fxevent.Invoking:
		Debugf("Invoking %s.", hookName(e.FunctionName))
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("Invoke of %s failed: %v", e.FunctionName, e.Err)
		}
	case *fxevent.Stopping:
		Infof("Received %s, stopping.", e.Signal)
	case *fxevent.Stopped:
		if e.Err != nil {
			Errorf("Stop failed: %v", e.Err)
		}
	case *fxevent.RollingBack:
		Errorf("Startup failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		if e.Err != nil {
			Errorf("Rollback failed: %v", e.Err)
		}
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("Startup failed: %v", e.Err)
		} else {
			Infof("Application started.")
		}
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("Logger initialization failed: %v", e.Err)
		}
	}
}

// hookName trims the ".funcN" suffix fx appends to anonymous hook functions,
// leaving the enclosing function's name.
func hookName(name string) string {
	if idx := strings.LastIndex(name, ".func"); idx != -1 {
		return name[:idx]
	}
	return name
}
