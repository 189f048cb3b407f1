package framework

// ArgsKey is the suite runtime bag namespace holding the CLI arguments.
const ArgsKey = "args"

// RunnerArgs carries the CLI arguments strategies and hooks consult at run
// time (debug logging, export toggles, docker build suppression).
type RunnerArgs struct {
	ConfigPath    string
	Debug         bool
	ExportTraces  bool
	ExportMetrics bool
	OTLPEndpoint  string
	DockerNoBuild bool
}

// ArgsFromContext resolves the CLI arguments from the suite runtime bag,
// returning the zero value when absent (tests construct suites directly).
func ArgsFromContext(ctx Context) RunnerArgs {
	suite := ctx.Suite()
	if suite == nil {
		return RunnerArgs{}
	}
	if v, ok := suite.Runtime.Get(ArgsKey); ok {
		if args, ok := v.(RunnerArgs); ok {
			return args
		}
	}
	return RunnerArgs{}
}
