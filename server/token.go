package server

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// A TokenDecoder validates and decodes API tokens. A token that is not
// valid, for whatever reason, decodes to the user "" with RoleUnknown. An
// error is returned only when the lookup itself failed and the status of
// the token is unknown.
type TokenDecoder interface {
	TokenDecode(token string) (user string, role Role, err error)
}

// Role is the privilege level granted by a token. Roles are ordered, and a
// route guarded by a role admits any token with that role or better.
type Role int

const (
	RoleUnknown Role = iota
	RoleMDOnly       // may read metadata
	RoleRead         // may also read file content
	RoleWrite        // may also create workspaces and change them
	RoleAdmin        // may also touch workspaces of other users
)

func atoRole(s string) Role {
	switch strings.ToLower(s) {
	case "mdonly":
		return RoleMDOnly
	case "read":
		return RoleRead
	case "write":
		return RoleWrite
	case "admin":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// NewNobodyDecoder creates a TokenDecoder decoding every possible token to
// a user named "nobody" with the Admin role. It is the decoder of last
// resort for a server running without authentication.
func NewNobodyDecoder() TokenDecoder {
	return nobodyDecoder{}
}

type nobodyDecoder struct{}

func (nobodyDecoder) TokenDecode(string) (string, Role, error) {
	return "nobody", RoleAdmin, nil
}

// A list decoder is backed by a fixed user list read from r on creation.
// The input is a sequence of lines of the form
//
//	<user name>  <role>  <token>
//
// with fields separated by whitespace, so neither user names nor tokens may
// contain spaces. The role is one of "MDOnly", "Read", "Write", "Admin"
// (case insensitive). Blank lines and lines starting with '#' are skipped.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	ld := listDecoder{users: make(map[string]userEntry)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0][0] == '#' {
			continue
		}
		if len(fields) != 3 {
			continue
		}
		ld.users[fields[2]] = userEntry{
			user: fields[0],
			role: atoRole(fields[1]),
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ld, nil
}

// NewListDecoderFile reads the named file into a list decoder. The file has
// the format NewListDecoder expects.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListDecoder(f)
}

type userEntry struct {
	user string
	role Role
}

type listDecoder struct {
	users map[string]userEntry
}

func (ld listDecoder) TokenDecode(token string) (string, Role, error) {
	entry, ok := ld.users[token]
	if !ok {
		return "", RoleUnknown, nil
	}
	return entry.user, entry.role, nil
}
