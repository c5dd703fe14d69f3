package server

import "html/template"

const signInTemplateName = "signin"

func newSignInTemplate() *template.Template {
	return template.Must(template.New(signInTemplateName).Parse(signInPage))
}

const signInPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Link Locksure with Alexa</title>
<style>
body { font-family: sans-serif; max-width: 24rem; margin: 3rem auto; padding: 0 1rem; }
label, input, button { display: block; width: 100%; margin-bottom: 0.75rem; }
input { padding: 0.5rem; box-sizing: border-box; }
button { padding: 0.6rem; }
</style>
</head>
<body>
<h1>Sign in to Locksure</h1>
<form method="POST" action="{{.Action}}">
<input type="hidden" name="state" value="{{.State}}">
<input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
<label for="email">Email</label>
<input id="email" type="email" name="email" autocomplete="username" required>
<label for="password">Password</label>
<input id="password" type="password" name="password" autocomplete="current-password" required>
<button type="submit">Link account</button>
</form>
</body>
</html>
`
