package server

import (
	"cmp"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/rowstream/component"
)

var probePaths = []string{"/health", "/alive", "/ready", "/info"}

var methodRank = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

func rank(method string) int {
	if i := slices.Index(methodRank, method); i >= 0 {
		return i
	}
	return len(methodRank)
}

// routeTable orders routes for the startup summary: API routes by path,
// then the probes.
func routeTable(routes gin.RoutesInfo) []component.Route {
	slices.SortStableFunc(routes, func(a, b gin.RouteInfo) int {
		aProbe, bProbe := slices.Contains(probePaths, a.Path), slices.Contains(probePaths, b.Path)
		if aProbe != bProbe {
			if aProbe {
				return 1
			}
			return -1
		}
		return cmp.Or(strings.Compare(a.Path, b.Path), cmp.Compare(rank(a.Method), rank(b.Method)))
	})

	out := make([]component.Route, 0, len(routes))
	for _, r := range routes {
		out = append(out, component.Route{Method: r.Method, Path: r.Path, Handler: formatHandlerName(r.Handler)})
	}
	return out
}

// formatHandlerName shortens gin's handler names:
//
//	"github.com/kbukum/rowstream/entity.(*Handler).serve-fm"      -> "Handler.serve"
//	"github.com/kbukum/rowstream/server/endpoint.Health.func1"   -> "health"
func formatHandlerName(full string) string {
	name := strings.TrimSuffix(full, "-fm")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer("(*", "", ")", "").Replace(name)

	// A closure is named after the function that returned it.
	if strings.Contains(name, ".func") {
		parts := strings.Split(name, ".")
		for i := len(parts) - 1; i >= 0; i-- {
			if !strings.HasPrefix(parts[i], "func") {
				return strings.ToLower(parts[i])
			}
		}
	}
	if pkg, rest, ok := strings.Cut(name, "."); ok && rest != "" && strings.ToLower(pkg) == pkg {
		return rest
	}
	return name
}
