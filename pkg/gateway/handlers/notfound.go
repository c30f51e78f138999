package handlers

import (
	"net/http"

	"github.com/vango-go/vai-callcore/pkg/core"
)

// NotFoundHandler answers unmatched routes with a not_found_error envelope
// naming the route.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, core.NewNotFoundError("no route for "+r.Method+" "+r.URL.Path))
}
