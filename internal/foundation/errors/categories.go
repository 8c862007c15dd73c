package errors

// ErrorCategory groups errors by what went wrong, which decides how the CLI
// reports them and whether a run is aborted.
type ErrorCategory string

const (
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryInProgress ErrorCategory = "in_progress"
	CategoryBuild      ErrorCategory = "build"
	CategoryBundle     ErrorCategory = "bundle"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryStep       ErrorCategory = "step"
	CategoryStore      ErrorCategory = "store"
	CategoryRuntime    ErrorCategory = "runtime"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity is the log level an error is reported at.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
)

// Exit codes used by the command-line driver.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitInProgress = 3
	ExitConfig     = 7
	ExitInternal   = 10
	ExitBuild      = 11
	ExitRuntime    = 12
)

type categoryTraits struct {
	exit     int
	severity ErrorSeverity
	// aborts is set for categories that end a run. Filesystem and step errors
	// are absorbed by the step that hit them.
	aborts bool
}

var traits = map[ErrorCategory]categoryTraits{
	CategoryConfig:     {exit: ExitConfig, severity: SeverityFatal, aborts: true},
	CategoryValidation: {exit: ExitUsage, severity: SeverityFatal, aborts: true},
	CategoryNotFound:   {exit: ExitConfig, severity: SeverityError},
	CategoryInProgress: {exit: ExitInProgress, severity: SeverityError},
	CategoryBuild:      {exit: ExitBuild, severity: SeverityFatal, aborts: true},
	CategoryBundle:     {exit: ExitBuild, severity: SeverityFatal, aborts: true},
	CategoryFileSystem: {exit: ExitBuild, severity: SeverityWarning},
	CategoryStep:       {exit: ExitBuild, severity: SeverityWarning},
	CategoryStore:      {exit: ExitRuntime, severity: SeverityFatal},
	CategoryRuntime:    {exit: ExitRuntime, severity: SeverityFatal},
	CategoryInternal:   {exit: ExitInternal, severity: SeverityFatal},
}

// ExitCode is the process exit status for an error of this category.
func (c ErrorCategory) ExitCode() int {
	if t, ok := traits[c]; ok {
		return t.exit
	}
	return ExitGeneral
}

// AbortsRun reports whether an error of this category moves a run to aborted.
func (c ErrorCategory) AbortsRun() bool {
	return traits[c].aborts
}

func (c ErrorCategory) defaultSeverity() ErrorSeverity {
	if t, ok := traits[c]; ok {
		return t.severity
	}
	return SeverityError
}
