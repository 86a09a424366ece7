package view

import (
	"bytes"
	"html/template"
)

// PasswordData describes the unlock form of a password-protected link.
type PasswordData struct {
	Title  string
	Code   string
	Failed bool
}

var passwordTmpl = template.Must(template.New("password").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<meta name="referrer" content="no-referrer" />
	<title>{{.Title}}</title>
	<style>
		body { margin: 0; min-height: 100vh; display: flex; align-items: center; justify-content: center;
			font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #0b1120; color: #e2e8f0; }
		.card { width: min(420px, 92vw); padding: 28px; border-radius: 16px; background: #111a2e; border: 1px solid #24324f; }
		input { width: 100%; box-sizing: border-box; margin: 16px 0; padding: 10px; border-radius: 8px; border: 1px solid #3b4b6b; }
		.error { color: #f87171; }
	</style>
</head>
<body>
	<form class="card" method="post" action="/{{.Code}}">
		<h1>{{.Title}}</h1>
		{{if .Failed}}<p class="error">Wrong password, try again.</p>{{end}}
		<input type="password" name="password" autocomplete="off" autofocus required />
		<button type="submit">Unlock</button>
	</form>
</body>
</html>
`))

// RenderPasswordForm expands the unlock form. It posts the password back to the short link.
func RenderPasswordForm(data PasswordData) (string, error) {
	if data.Title == "" {
		data.Title = "This link is protected"
	}
	var buf bytes.Buffer
	if err := passwordTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
