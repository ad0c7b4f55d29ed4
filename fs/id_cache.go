package fs

import (
	"os/user"
	"strconv"
	"sync"
)

// idCache remembers host user and group names. Ids without a name are
// reported numerically.
type idCache struct {
	m    sync.Mutex
	uids map[int]string
	gids map[int]string
}

func (c *idCache) Username(uid int) string {
	c.m.Lock()
	defer c.m.Unlock()
	if c.uids == nil {
		c.uids = make(map[int]string)
	}
	username, ok := c.uids[uid]
	if !ok {
		username = strconv.Itoa(uid)
		if usr, err := user.LookupId(username); err == nil {
			username = usr.Username
		}
		c.uids[uid] = username
	}
	return username
}

func (c *idCache) Groupname(gid int) string {
	c.m.Lock()
	defer c.m.Unlock()
	if c.gids == nil {
		c.gids = make(map[int]string)
	}
	groupname, ok := c.gids[gid]
	if !ok {
		groupname = strconv.Itoa(gid)
		if grp, err := user.LookupGroupId(groupname); err == nil {
			groupname = grp.Name
		}
		c.gids[gid] = groupname
	}
	return groupname
}
