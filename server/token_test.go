package server

import (
	"strings"
	"testing"
)

func TestAtoRole(t *testing.T) {
	var table = []struct {
		input  string
		output Role
	}{
		{"MDOnly", RoleMDOnly},
		{"mdonly", RoleMDOnly},
		{"read", RoleRead},
		{"Read", RoleRead},
		{"Write", RoleWrite},
		{"write", RoleWrite},
		{"admin", RoleAdmin},
		{"Admin", RoleAdmin},
		{"other", RoleUnknown},
	}

	for _, row := range table {
		result := atoRole(row.input)
		if result != row.output {
			t.Errorf("For %v received %v, expected %v", row.input, result, row.output)
		}
	}
}

func TestListDecoder(t *testing.T) {
	const list = `
# comment line
ann   admin  token-ann
bob   write  token-bob
carol read   token-carol
dave  mdonly token-dave

bad line with too many fields here
`
	d, err := NewListDecoder(strings.NewReader(list))
	if err != nil {
		t.Fatalf("NewListDecoder: %s", err)
	}
	var table = []struct {
		token string
		user  string
		role  Role
	}{
		{"token-ann", "ann", RoleAdmin},
		{"token-bob", "bob", RoleWrite},
		{"token-carol", "carol", RoleRead},
		{"token-dave", "dave", RoleMDOnly},
		{"token-eve", "", RoleUnknown},
		{"", "", RoleUnknown},
	}
	for _, row := range table {
		user, role, err := d.TokenDecode(row.token)
		if err != nil {
			t.Errorf("TokenDecode(%q): %s", row.token, err)
		}
		if user != row.user || role != row.role {
			t.Errorf("TokenDecode(%q) = %q, %v, expected %q, %v",
				row.token, user, role, row.user, row.role)
		}
	}
}
