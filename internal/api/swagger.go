package api

import (
    "encoding/base64"
    "fmt"
    "net/http"
)

// SwaggerHandler serves an interactive Swagger UI. The OpenAPI document
// is inlined base64-encoded so the page works even when /openapi.json
// sits behind a different proxy path. The identity picker writes the dev
// headers into localStorage and a request interceptor attaches them to
// every try-out call.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
    data, err := openAPIJSON()
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Spec unavailable", err.Error())
        return
    }
    page := fmt.Sprintf(swaggerPage, base64.StdEncoding.EncodeToString(data))
    w.Header().Set("Content-Type", "text/html; charset=utf-8")
    _, _ = w.Write([]byte(page))
}

const swaggerPage = `<!DOCTYPE html>
<html>
<head>
  <title>FieldRoute API</title>
  <meta charset="utf-8"/>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  <style>
    #identity { padding: 8px 16px; background: #1b1b1b; color: #eee; font-family: sans-serif; font-size: 14px; }
    #identity select, #identity input { margin-left: 8px; }
  </style>
</head>
<body>
  <div id="identity">
    Identity:
    <select id="preset">
      <option value="contractor">Contractor (c_demo)</option>
      <option value="admin">Admin</option>
      <option value="custom">Custom</option>
    </select>
    <input id="contractor" placeholder="contractor id" value="c_demo"/>
    <input id="role" placeholder="role" value="contractor"/>
  </div>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    const presets = {
      contractor: { contractor: "c_demo", role: "contractor" },
      admin: { contractor: "", role: "admin" },
    };
    const sel = document.getElementById("preset");
    const conIn = document.getElementById("contractor");
    const roleIn = document.getElementById("role");
    function load() {
      conIn.value = localStorage.getItem("frd.contractor") || "c_demo";
      roleIn.value = localStorage.getItem("frd.role") || "contractor";
    }
    function save() {
      localStorage.setItem("frd.contractor", conIn.value);
      localStorage.setItem("frd.role", roleIn.value);
    }
    sel.addEventListener("change", () => {
      const p = presets[sel.value];
      if (p) { conIn.value = p.contractor; roleIn.value = p.role; }
      save();
    });
    conIn.addEventListener("change", save);
    roleIn.addEventListener("change", save);
    load();
    SwaggerUIBundle({
      spec: JSON.parse(atob("%s")),
      dom_id: "#swagger-ui",
      requestInterceptor: (req) => {
        if (conIn.value) req.headers["X-Contractor-Id"] = conIn.value;
        if (roleIn.value) req.headers["X-Role"] = roleIn.value;
        return req;
      },
    });
  </script>
</body>
</html>`
