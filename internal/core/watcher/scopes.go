package watcher

import (
	"path/filepath"
	"raafstore/internal/core/ports"
	"raafstore/internal/shared/util"
	"sort"
	"strings"
)

const clientsDir = "clients"

// ScopeFor maps a changed path to the narrowest backfill scope that covers it. ok is
// false for paths outside the clients/ subtree, such as the database living next to it.
func ScopeFor(root, path string) (scope ports.Scope, ok bool) {
	if !util.HasPathPrefix(filepath.ToSlash(path), filepath.ToSlash(root)) {
		return ports.Scope{}, false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ports.Scope{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if parts[0] != clientsDir {
		return ports.Scope{}, false
	}
	if len(parts) < 2 || parts[1] == "" {
		return ports.Scope{}, true
	}
	scope.ClientCode = parts[1]
	if len(parts) >= 4 && parts[2] == "requisitions" && parts[3] != "" {
		scope.ReqID = parts[3]
	}
	return scope, true
}

// ScopesFor coalesces the scopes of a batch of changed paths: a whole-tree scope
// absorbs everything and a client scope absorbs that client's requisitions.
func ScopesFor(root string, paths []string) []ports.Scope {
	clients := make(map[string]bool)
	reqs := make(map[ports.Scope]bool)
	for _, p := range paths {
		scope, ok := ScopeFor(root, p)
		switch {
		case !ok:
			continue
		case scope.IsZero():
			return []ports.Scope{{}}
		case scope.ReqID == "":
			clients[scope.ClientCode] = true
		default:
			reqs[scope] = true
		}
	}

	out := make([]ports.Scope, 0, len(clients)+len(reqs))
	for code := range clients {
		out = append(out, ports.Scope{ClientCode: code})
	}
	for scope := range reqs {
		if !clients[scope.ClientCode] {
			out = append(out, scope)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
