package access

import (
	"strings"

	"github.com/entnt/dental-connect/internal/domain/session"
)

type route struct {
	public bool
	req    Requirement
}

var routes = map[string]route{
	"/":          {public: true},
	"/login":     {public: true},
	"/dashboard": {req: AnyRole},
	"/profile":   {req: AnyRole},
	"/patients":  {req: AdminOnly},
	"/incidents": {req: AdminOnly},
	"/calendar":  {req: AdminOnly},
	"/history":   {req: PatientOnly},
}

// Resolve applies the client route table to path. Unknown paths fall back
// to the dashboard for signed-in users and the landing page otherwise.
func Resolve(path string, id session.Identity) Decision {
	r, ok := routes[normalize(path)]
	if !ok {
		if id == nil {
			return redirect(HomePath)
		}
		return redirect(DefaultPath)
	}
	if r.public {
		return allow()
	}
	return Authorize(id, r.req)
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
