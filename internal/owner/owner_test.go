package owner_test

import (
	"os/user"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sourcefrog-labs/conserve/internal/owner"
)

func TestLookupCurrentUser(t *testing.T) {
	me, err := user.Current()
	require.NoError(t, err)
	uid, err := strconv.ParseUint(me.Uid, 10, 32)
	require.NoError(t, err)
	gid, err := strconv.ParseUint(me.Gid, 10, 32)
	require.NoError(t, err)

	r := owner.New()
	o := r.Lookup(uint32(uid), uint32(gid))
	require.Equal(t, me.Username, o.User)
}

func TestLookupUnknownOmitsName(t *testing.T) {
	r := owner.New()
	o := r.Lookup(4294966000, 4294966001)
	require.Equal(t, "", o.User)
	require.Equal(t, "", o.Group)
}

func TestLookupIsCached(t *testing.T) {
	r := owner.New()
	first := r.Lookup(0, 0)
	second := r.Lookup(0, 0)
	require.Equal(t, first, second)
}
