package view

import (
	"bytes"
	"html/template"
)

// InterstitialData provides the dynamic fields of one monetized interstitial page.
type InterstitialData struct {
	Title       string
	Code        string
	TargetURL   string
	ContinueURL string
	// DelaySeconds holds the continue button back; zero enables it immediately.
	DelaySeconds int
	ShowAds      bool
	Page         int
	Pages        int
}

var interstitialTmpl = template.Must(template.New("interstitial").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<title>{{.Title}}</title>
	<style>
		body { margin: 0; min-height: 100vh; display: flex; align-items: center; justify-content: center;
			font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #0b1120; color: #e2e8f0; }
		.card { width: min(560px, 92vw); padding: 28px; border-radius: 16px; background: #111a2e; border: 1px solid #24324f; }
		.destination { margin: 20px 0; padding: 14px; border-radius: 10px; background: #0b1120; word-break: break-all; }
		.ad-slot { margin: 20px 0; min-height: 120px; border: 1px dashed #3b4b6b; border-radius: 10px;
			display: flex; align-items: center; justify-content: center; color: #64748b; }
		.muted { color: #94a3b8; font-size: 0.9rem; }
		a.button { display: inline-block; padding: 12px 26px; border-radius: 999px; background: #38bdf8; color: #04111d;
			font-weight: 600; text-decoration: none; }
		a.button[aria-disabled="true"] { pointer-events: none; opacity: 0.4; }
	</style>
</head>
<body>
	<div class="card">
		<h1>{{.Title}}</h1>
		{{if gt .Pages 1}}<p class="muted">Step {{.Page}} of {{.Pages}}</p>{{end}}
		<div class="destination">{{.TargetURL}}</div>
		{{if .ShowAds}}<div class="ad-slot" data-code="{{.Code}}" data-page="{{.Page}}">Advertisement</div>{{end}}
		{{if gt .DelaySeconds 0}}<p class="muted">You can continue in <span id="countdown">{{.DelaySeconds}}</span>s.</p>{{end}}
		<a id="cta" class="button" href="{{.ContinueURL}}"{{if gt .DelaySeconds 0}} aria-disabled="true"{{end}}>Continue</a>
	</div>
	{{if gt .DelaySeconds 0}}
	<script>
		(function() {
			let remaining = {{.DelaySeconds}};
			const countdown = document.getElementById("countdown");
			const cta = document.getElementById("cta");
			const tick = () => {
				remaining -= 1;
				if (remaining <= 0) {
					cta.removeAttribute("aria-disabled");
					countdown.parentElement.remove();
					return;
				}
				countdown.textContent = remaining.toString();
				setTimeout(tick, 1000);
			};
			setTimeout(tick, 1000);
		})();
	</script>
	{{end}}
</body>
</html>
`))

// RenderInterstitial expands the interstitial template.
func RenderInterstitial(data InterstitialData) (string, error) {
	if data.Title == "" {
		data.Title = "You're almost there"
	}
	if data.Pages < 1 {
		data.Pages = 1
	}
	if data.Page < 1 {
		data.Page = 1
	}
	var buf bytes.Buffer
	if err := interstitialTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
