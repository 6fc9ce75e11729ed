// Package owner resolves a file's POSIX uid/gid to portable user and group
// names, generalized from go-git's worktree status code (which pulls a raw
// stat struct apart to get at mode bits) to name resolution via os/user
// with a process-lifetime cache (spec.md section 9: owner metadata is
// stored as names, not numeric ids, so an archive can be restored onto a
// different machine).
package owner

import (
	"os/user"
	"strconv"
	"sync"

	"github.com/sourcefrog-labs/conserve/index"
)

// Resolver maps uids/gids to names, caching lookups since os/user hits
// /etc/passwd or NSS on every call.
type Resolver struct {
	mu     sync.Mutex
	users  map[uint32]string
	groups map[uint32]string
}

// New returns a Resolver with an empty cache.
func New() *Resolver {
	return &Resolver{
		users:  make(map[uint32]string),
		groups: make(map[uint32]string),
	}
}

// Lookup returns the owning user and group names for uid/gid, leaving a
// field empty if its id can't be resolved to a name, per spec.md section 9
// ("on systems without named users, both are omitted") and the original
// implementation's owner.rs, where an unresolvable uid/gid yields None
// rather than a synthetic numeric name.
func (r *Resolver) Lookup(uid, gid uint32) index.Owner {
	return index.Owner{User: r.userName(uid), Group: r.groupName(gid)}
}

func (r *Resolver) userName(uid uint32) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.users[uid]; ok {
		return name
	}
	var name string
	if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
		name = u.Username
	}
	r.users[uid] = name
	return name
}

func (r *Resolver) groupName(gid uint32) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.groups[gid]; ok {
		return name
	}
	var name string
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err == nil {
		name = g.Name
	}
	r.groups[gid] = name
	return name
}

// ResolveIDs is Lookup's inverse, used by restore to turn a stored owner
// name back into a uid/gid on the restoring machine. An empty name (an
// owner Lookup couldn't resolve) or one that still doesn't resolve on this
// machine returns ok=false, and restore treats that as "leave ownership
// alone" rather than failing.
func (r *Resolver) ResolveIDs(userName, groupName string) (uid, gid int, ok bool) {
	u, err := user.Lookup(userName)
	if err != nil {
		return 0, 0, false
	}
	g, err := user.LookupGroup(groupName)
	if err != nil {
		return 0, 0, false
	}
	uid, err1 := strconv.Atoi(u.Uid)
	gid, err2 := strconv.Atoi(g.Gid)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uid, gid, true
}
