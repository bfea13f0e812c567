package sources

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// ESRIQueryURL builds the layer query for a feature or map service: all
// fields, no filter, one page positioned at the window. Query parameters
// already on the service URL (tokens) are kept.
func ESRIQueryURL(service *url.URL, w core.Window) *url.URL {
	u := *service
	u.Path = strings.TrimSuffix(u.Path, "/") + "/query"
	u.RawPath = ""

	q := fmt.Sprintf("where=1%%3D1&outFields=*&resultRecordCount=%d&resultOffset=%d&f=json", w.Size, w.Offset)
	if service.RawQuery != "" {
		q = service.RawQuery + "&" + q
	}
	u.RawQuery = q
	u.Fragment = ""
	return &u
}
