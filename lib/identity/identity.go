// Package identity resolves user and group identity via the host's
// NSS-backed user/group databases, backing HostProcessor's Username, Uid,
// Groupname, Gid, and Gids requests.
package identity

import (
	"os/user"
	"strconv"
)

// Username looks up the login name for uid, returning ok=false if no such
// user exists.
func Username(uid uint32) (name string, ok bool) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return "", false
	}
	return u.Username, true
}

// Uid looks up the uid for username, returning ok=false if no such user
// exists.
func Uid(username string) (uid uint32, ok bool) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Groupname looks up the group name for gid, returning ok=false if no such
// group exists.
func Groupname(gid uint32) (name string, ok bool) {
	g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10))
	if err != nil {
		return "", false
	}
	return g.Name, true
}

// Gid looks up the gid for groupname, returning ok=false if no such group
// exists.
func Gid(groupname string) (gid uint32, ok bool) {
	g, err := user.LookupGroup(groupname)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Gids looks up every supplementary group gid for the user identified by
// uid, returning ok=false only if the user itself doesn't exist (an
// existing user with no supplementary groups yields an empty, ok=true
// slice).
func Gids(uid uint32) (gids []uint32, ok bool) {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return nil, false
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return []uint32{}, true
	}
	gids = make([]uint32, 0, len(groupIDs))
	for _, s := range groupIDs {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			continue
		}
		gids = append(gids, uint32(n))
	}
	return gids, true
}
