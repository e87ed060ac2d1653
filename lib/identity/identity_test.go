package identity_test

import (
	"os/user"
	"strconv"
	"testing"

	"github.com/nextpyp/procbridge/lib/identity"
	"github.com/stretchr/testify/require"
)

func TestUsernameAndUidRoundTrip(t *testing.T) {
	t.Parallel()

	me, err := user.Current()
	require.NoError(t, err)
	uid, err := strconv.ParseUint(me.Uid, 10, 32)
	require.NoError(t, err)

	name, ok := identity.Username(uint32(uid))
	require.True(t, ok)
	require.Equal(t, me.Username, name)

	gotUid, ok := identity.Uid(me.Username)
	require.True(t, ok)
	require.Equal(t, uint32(uid), gotUid)
}

func TestUsernameUnknownUid(t *testing.T) {
	t.Parallel()
	_, ok := identity.Username(0xFFFFFFF0)
	require.False(t, ok)
}

func TestGroupnameAndGidRoundTrip(t *testing.T) {
	t.Parallel()

	me, err := user.Current()
	require.NoError(t, err)
	gid, err := strconv.ParseUint(me.Gid, 10, 32)
	require.NoError(t, err)

	name, ok := identity.Groupname(uint32(gid))
	require.True(t, ok)

	gotGid, ok := identity.Gid(name)
	require.True(t, ok)
	require.Equal(t, uint32(gid), gotGid)
}

func TestGidsForCurrentUser(t *testing.T) {
	t.Parallel()

	me, err := user.Current()
	require.NoError(t, err)
	uid, err := strconv.ParseUint(me.Uid, 10, 32)
	require.NoError(t, err)

	gids, ok := identity.Gids(uint32(uid))
	require.True(t, ok)
	require.NotNil(t, gids)
}

func TestGidsUnknownUid(t *testing.T) {
	t.Parallel()
	_, ok := identity.Gids(0xFFFFFFF0)
	require.False(t, ok)
}
