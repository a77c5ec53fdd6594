package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `name: add-auth
tasks:
  - id: session-store
    name: Session store
    description: Implement the server-side session store with TTL eviction and an in-memory index.
    complexity: M
    files: [src/session/store.go]
  - id: login-endpoint
    name: Login endpoint
    description: Add the login endpoint that validates credentials and issues a session cookie.
    complexity: S
    files: [src/api/login.go]
    dependencies: [session-store]
`

const cyclicPlan = `name: cyclic
tasks:
  - id: a
    name: A
    description: Rework the request router so middleware can be registered per route.
    complexity: M
    files: [a.go]
    dependencies: [b]
  - id: b
    name: B
    description: Extract the middleware chain into its own package with explicit ordering.
    complexity: M
    files: [b.go]
    dependencies: [a]
`

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateCommandValidPlan(t *testing.T) {
	err := validatePlanFile(writePlan(t, "plan.yaml", validPlan), true)
	assert.NoError(t, err)
}

func TestValidateCommandCyclicPlan(t *testing.T) {
	err := validatePlanFile(writePlan(t, "plan.yaml", cyclicPlan), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
}

func TestValidateCommandMissingFile(t *testing.T) {
	err := validatePlanFile(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.Error(t, err)
}
