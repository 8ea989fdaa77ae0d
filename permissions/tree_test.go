package permissions_test

import (
	"encoding/json"
	"testing"

	"github.com/serandives/accounts-client/permissions"
	"github.com/stretchr/testify/require"
)

func TestPermitThenCan(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("a:b", "read")

	require.True(t, tree.Can("a:b", "read"))
	require.False(t, tree.Can("a:b", "write"))
	require.False(t, tree.Can("a", "read"))
	require.False(t, tree.Can("a:b:c", "read"))
}

func TestPermitAppendsToExistingGrants(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("a:b", "read")
	tree.Permit("a:b", "write")

	require.True(t, tree.Can("a:b", "read"))
	require.True(t, tree.Can("a:b", "write"))
}

func TestUniversalActionSatisfiesAnyAction(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("autos:123", permissions.AnyAction)

	require.True(t, tree.Can("autos:123", "read"))
	require.True(t, tree.Can("autos:123", "delete"))
	require.False(t, tree.Can("autos:124", "read"))
}

func TestWildcardPreemptsAbsence(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("a:*", "read")

	// Nothing is granted at a:b, the wildcard sibling carries the grant.
	require.True(t, tree.Can("a:b", "read"))
	require.False(t, tree.Can("a:b", "write"))
}

func TestWildcardAtAncestorShortCircuitsDeeperTraversal(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("a:*", "read")

	// The wildcard one level below "a" satisfies arbitrarily deep paths
	// under it, even though none of the intermediate nodes exist.
	require.True(t, tree.Can("a:b:c:d", "read"))
	require.False(t, tree.Can("b:c", "read"))
}

func TestWildcardChildrenAreNotConsulted(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("a:*:c", "read")

	// Only the wildcard node's own actions short-circuit; its children
	// require descending through a concrete segment match.
	require.True(t, tree.Can("a:*:c", "read"))
	require.False(t, tree.Can("a:b", "read"))
}

func TestActionNotGrantedAnywhereOnPath(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("autos", "read")
	tree.Permit("autos:*", "read")

	require.False(t, tree.Can("autos:999", "write"))
	require.True(t, tree.Can("autos:999", "read"))
}

func TestEmptyPathChecksRoot(t *testing.T) {
	tree := permissions.NewTree()
	require.False(t, tree.Can("", "read"))

	tree.Permit("", "read")
	require.True(t, tree.Can("", "read"))
	require.False(t, tree.Can("", "write"))
}

func TestCanDoesNotMutate(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("a:b", "read")

	before, err := json.Marshal(tree)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.True(t, tree.Can("a:b", "read"))
		require.False(t, tree.Can("x:y:z", "write"))
	}

	after, err := json.Marshal(tree)
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestNilTreeGrantsNothing(t *testing.T) {
	var tree *permissions.Tree
	require.False(t, tree.Can("a", "read"))
}

func TestTreeSurvivesJSONRoundTrip(t *testing.T) {
	tree := permissions.NewTree()
	tree.Permit("autos:*", "read")
	tree.Permit("autos:999:comments", "add", "remove")

	b, err := json.Marshal(tree)
	require.NoError(t, err)

	var decoded permissions.Tree
	require.NoError(t, json.Unmarshal(b, &decoded))

	require.True(t, decoded.Can("autos:123", "read"))
	require.True(t, decoded.Can("autos:999:comments", "remove"))
	require.False(t, decoded.Can("autos:999:comments", "read"))
}

func TestAnonymousTree(t *testing.T) {
	tree := permissions.Anonymous()

	require.True(t, tree.Can("tokens", "add"))
	require.True(t, tree.Can("users", "add"))
	require.False(t, tree.Can("autos", "read"))
}
