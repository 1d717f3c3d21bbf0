package docs

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
)

//go:embed openapi.yaml
var assets embed.FS

// swagger-ui is loaded from a CDN so the binary only embeds the OpenAPI document.
var page = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>{{.Title}}</title>
	<link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
	<div id="swagger-ui"></div>
	<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
	<script>
		window.onload = function() {
			SwaggerUIBundle({
				url: '{{.SpecURL}}',
				dom_id: '#swagger-ui',
				deepLinking: true,
				supportedSubmitMethods: ['get', 'post']
			});
		}
	</script>
</body>
</html>`))

// Handler serves the API docs page at /docs and the raw spec at
// /docs/openapi.yaml.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs", "/docs/":
			w.Header().Set("Content-Type", "text/html")
			data := struct{ Title, SpecURL string }{"Cloud Cost Router API", "/docs/openapi.yaml"}
			if err := page.Execute(w, data); err != nil {
				log.Error().Err(err).Msg("failed to execute swagger template")
			}
		case "/docs/openapi.yaml":
			spec, err := assets.ReadFile("openapi.yaml")
			if err != nil {
				http.Error(w, "OpenAPI spec not found", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(spec)
		default:
			http.NotFound(w, r)
		}
	})
}
