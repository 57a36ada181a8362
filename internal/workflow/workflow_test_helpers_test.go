package workflow

import (
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/mailcore/internal/activity"
)

// registerActivities registers activity structs with the test workflow
// environment so parameter and return types deserialize. All activities are
// mocked via OnActivity in unit tests.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.Backfill{})
}
