// Package nodes provides ready-made flow nodes: expression routers and
// transforms, resilience wrappers and small text utilities.
package nodes

import (
	"sync"

	"github.com/rendis/agentflow/internal/expressions"
)

var (
	celEngine  = sync.OnceValues(expressions.NewCELEngine)
	exprEngine = sync.OnceValue(expressions.NewExprEngine)
	jqEngine   = sync.OnceValue(expressions.NewJQEngine)
)
