package api

import (
    "encoding/json"
    "net/http"
    "strings"

    "gopkg.in/yaml.v3"
)

// openAPIJSON converts the bundled YAML document to JSON for clients
// that only speak JSON.
func openAPIJSON() ([]byte, error) {
    raw, err := openAPILoad()
    if err != nil {
        return nil, err
    }
    var doc any
    if err := yaml.Unmarshal(raw, &doc); err != nil {
        return nil, err
    }
    return json.Marshal(doc)
}

// OpenAPIHandler serves the API description: YAML at /openapi.yaml (or
// with ?format=yaml), JSON otherwise.
func (s *Server) OpenAPIHandler(w http.ResponseWriter, r *http.Request) {
    if strings.HasSuffix(r.URL.Path, ".yaml") || r.URL.Query().Get("format") == "yaml" {
        raw, err := openAPILoad()
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Spec unavailable", err.Error())
            return
        }
        w.Header().Set("Content-Type", "application/yaml")
        _, _ = w.Write(raw)
        return
    }
    data, err := openAPIJSON()
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Spec unavailable", err.Error())
        return
    }
    w.Header().Set("Content-Type", "application/json")
    _, _ = w.Write(data)
}

const redocPage = `<!DOCTYPE html>
<html>
<head>
  <title>FieldRoute API Reference</title>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>body { margin: 0; padding: 0; }</style>
</head>
<body>
  <redoc spec-url="/openapi.json"></redoc>
  <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>`

// DocsHandler serves a Redoc reference page backed by /openapi.json.
func (s *Server) DocsHandler(w http.ResponseWriter, r *http.Request) {
    w.Header().Set("Content-Type", "text/html; charset=utf-8")
    _, _ = w.Write([]byte(redocPage))
}
