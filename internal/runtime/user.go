package runtime

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Resolves "user", "uid", "user:group", or "uid:gid" against the
// container's /etc/passwd and /etc/group.
//
// "uid:gid" and "0" are used as-is without reading any file.
func (c *Container) lookupUser(ctx context.Context, spec string) (specs.User, error) {
	name, group, hasGroup := strings.Cut(spec, ":")

	uid, uidErr := strconv.ParseUint(name, 10, 32)
	gid, gidErr := strconv.ParseUint(group, 10, 32)
	if uidErr == nil && ((hasGroup && gidErr == nil) || (!hasGroup && uid == 0)) {
		return specs.User{UID: uint32(uid), GID: uint32(gid)}, nil
	}

	var passwd, groups bytes.Buffer
	if err := c.mustExec(ctx, "read passwd", nil, &passwd, "cat", "/etc/passwd"); err != nil {
		return specs.User{}, err
	}
	if hasGroup && gidErr != nil {
		if err := c.mustExec(ctx, "read group", nil, &groups, "cat", "/etc/group"); err != nil {
			return specs.User{}, err
		}
	}

	return resolveUser(spec, passwd.Bytes(), groups.Bytes())
}

// Resolves a user spec against passwd and group file contents.
//
// Without a group part the user's primary group is used.
func resolveUser(spec string, passwd, group []byte) (specs.User, error) {
	name, groupName, hasGroup := strings.Cut(spec, ":")

	var user specs.User
	if uid, err := strconv.ParseUint(name, 10, 32); err == nil {
		user.UID = uint32(uid)
		if entry, ok := findEntry(passwd, 2, name); ok && len(entry) >= 4 {
			user.GID = parseID(entry[3])
		}
	} else {
		entry, ok := findEntry(passwd, 0, name)
		if !ok || len(entry) < 4 {
			return specs.User{}, wrapf(ErrUser, "%q not in /etc/passwd", name)
		}
		user.UID = parseID(entry[2])
		user.GID = parseID(entry[3])
	}

	if !hasGroup {
		return user, nil
	}

	if gid, err := strconv.ParseUint(groupName, 10, 32); err == nil {
		user.GID = uint32(gid)
		return user, nil
	}

	entry, ok := findEntry(group, 0, groupName)
	if !ok || len(entry) < 3 {
		return specs.User{}, wrapf(ErrUser, "group %q not in /etc/group", groupName)
	}
	user.GID = parseID(entry[2])
	return user, nil
}

// Finds the first colon-separated line whose field at index equals value.
func findEntry(data []byte, index int, value string) ([]string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) > index && fields[index] == value {
			return fields, true
		}
	}
	return nil, false
}

func parseID(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}
