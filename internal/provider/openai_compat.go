package provider

import "net/http"

// headerRoundTripper injects fixed headers on every outgoing request
// before delegating to next, letting an OpenAI-compatible provider reuse
// OpenAIClient's request/response handling while adding provider-specific
// headers OpenAI's own API doesn't need (e.g. OpenRouter's attribution
// headers).
type headerRoundTripper struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			cloned.Header.Set(k, v)
		}
	}
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(cloned)
}

// withHeaders wraps an *http.Client's transport so every request it sends
// carries the given fixed headers in addition to whatever the caller set.
func withHeaders(client *http.Client, headers map[string]string) *http.Client {
	return &http.Client{
		Timeout:   client.Timeout,
		Transport: &headerRoundTripper{next: client.Transport, headers: headers},
	}
}
