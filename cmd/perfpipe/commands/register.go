package commands

// Blank imports wire every built-in strategy, action, hook, formatter and
// writer into the registry at program start.
import (
	_ "github.com/perfpipe/perfpipe/pkg/actions"
	_ "github.com/perfpipe/perfpipe/pkg/hooks"
	_ "github.com/perfpipe/perfpipe/pkg/reporting"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/docker"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/loadgen"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/process"
	_ "github.com/perfpipe/perfpipe/pkg/strategies/prometheus"
)
