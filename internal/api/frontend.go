package api

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

var homeTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
<title>InferLine - Available Models</title>
<style>
body { font-family: Arial, sans-serif; max-width: 1100px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
.header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 30px; border-radius: 10px; text-align: center; margin-bottom: 30px; }
.models-grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(320px, 1fr)); gap: 20px; }
.model-card { background: white; border-radius: 10px; padding: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); }
.model-card h3 { margin: 0 0 12px 0; color: #333; }
.btn { display: inline-block; background: #667eea; color: white; padding: 8px 16px; text-decoration: none; border-radius: 5px; margin-top: 12px; }
.no-models { text-align: center; color: #666; font-style: italic; padding: 40px; }
.stats { color: #666; text-align: center; margin-top: 20px; }
</style>
</head>
<body>
<div class="header">
<h1>InferLine</h1>
<p>Pull-based inference request broker</p>
</div>
{{if .Models}}
<div class="models-grid">
{{range .Models}}
<div class="model-card">
<h3>{{.ID}}</h3>
<p>Served by {{.Providers}} active provider{{if ne .Providers 1}}s{{end}}</p>
<a class="btn" href="/model/{{.Escaped}}">View API Instructions</a>
</div>
{{end}}
</div>
{{else}}
<p class="no-models">No models currently available. Providers will register models when they connect.</p>
{{end}}
<p class="stats">{{.Stats.Pending}} pending &middot; {{.Stats.Processing}} processing &middot; {{.Stats.ActiveProviders}} providers online</p>
</body>
</html>
`))

var modelTmpl = template.Must(template.New("model").Parse(`<!DOCTYPE html>
<html>
<head>
<title>InferLine - {{.Model}}</title>
<style>
body { font-family: Arial, sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
.header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 24px; border-radius: 10px; margin-bottom: 24px; }
pre { background: #272822; color: #f8f8f2; padding: 16px; border-radius: 8px; overflow-x: auto; }
a { color: #667eea; }
</style>
</head>
<body>
<div class="header"><h1>{{.Model}}</h1></div>
<p><a href="/">&larr; back to all models</a></p>
<h2>Synchronous completion</h2>
<pre>curl -X POST {{.BaseURL}}/v1/completions \
  -H "Content-Type: application/json" \
  -d '{"model": "{{.Model}}", "payload": {"prompt": "Hello"}}'</pre>
<h2>Asynchronous submission</h2>
<pre>curl -X POST {{.BaseURL}}/v1/queue/submit \
  -H "Content-Type: application/json" \
  -d '{"model": "{{.Model}}", "kind": "completion", "payload": {"prompt": "Hello"}}'

curl {{.BaseURL}}/v1/queue/status/&lt;request_id&gt;</pre>
</body>
</html>
`))

type homeModel struct {
	ID        string
	Escaped   string
	Providers int
}

// handleHome handles GET /: model cards for everything active providers serve.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	providers, err := s.broker.ActiveProviders(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	stats, err := s.broker.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	counts := make(map[string]int)
	var order []string
	for _, p := range providers {
		for _, m := range p.Models {
			if counts[m] == 0 {
				order = append(order, m)
			}
			counts[m]++
		}
	}

	models := make([]homeModel, 0, len(order))
	for _, m := range order {
		models = append(models, homeModel{
			ID:        m,
			Escaped:   url.PathEscape(m),
			Providers: counts[m],
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = homeTmpl.Execute(w, map[string]any{
		"Models": models,
		"Stats":  stats,
	})
}

// handleModelDetail handles GET /model/{model}: per-model usage instructions.
func (s *Server) handleModelDetail(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "model"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid model name")
		return
	}

	models, err := s.broker.ActiveModels(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "model list failed")
		return
	}
	found := false
	for _, m := range models {
		if m == name {
			found = true
			break
		}
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = modelTmpl.Execute(w, map[string]any{
		"Model":   name,
		"BaseURL": scheme + "://" + r.Host,
	})
}
