package ingress

import (
	"context"
	"embed"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

//go:embed openapi/ingest.yaml
var openapiFS embed.FS

// loadValidator parses the embedded OpenAPI document once at construction
// so a malformed document fails process startup rather than a caregiver's
// turn (Design Notes #9: "a port MUST define an explicit schema... and
// validate at boundaries").
func loadValidator() (routers.Router, error) {
	data, err := openapiFS.ReadFile("openapi/ingest.yaml")
	if err != nil {
		return nil, err
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, err
	}
	return gorillamux.NewRouter(doc)
}

// validateRequest checks r against the embedded document's matching
// operation, returning a non-nil error on any schema mismatch (missing
// required field, wrong type, unknown path).
func validateRequest(router routers.Router, r *http.Request) error {
	route, pathParams, err := router.FindRoute(r)
	if err != nil {
		return err
	}
	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
	}
	return openapi3filter.ValidateRequest(r.Context(), input)
}
