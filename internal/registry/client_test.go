package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport sends every request to the test server regardless of the
// host baked into the manifest URL
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	c := NewClient(5*time.Second, zerolog.Nop())
	c.http = &http.Client{Transport: rewriteTransport{target: target}}
	return c, server
}

func TestHeadDigest(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/v2/library/nginx/manifests/latest", r.URL.Path)
		assert.Contains(t, r.Header.Get("Accept"), "manifest.list.v2+json")

		w.Header().Set(digestHeader, "sha256:deadbeef")
		w.WriteHeader(http.StatusOK)
	}))

	ref := Reference{Host: "registry-1.docker.io", Repository: "library/nginx", Tag: "latest"}
	digest, err := c.HeadDigest(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "sha256:deadbeef", digest)
}

func TestHeadDigestAnonymousTokenFlow(t *testing.T) {
	var sawToken string

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			assert.Equal(t, "registry.example.com", r.URL.Query().Get("service"))
			assert.Equal(t, "repository:library/nginx:pull", r.URL.Query().Get("scope"))
			w.Write([]byte(`{"token": "anon-token"}`))
		case "/v2/library/nginx/manifests/latest":
			auth := r.Header.Get("Authorization")
			if auth == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="https://registry.example.com/token",service="registry.example.com"`)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			sawToken = auth
			w.Header().Set(digestHeader, "sha256:cafef00d")
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ref := Reference{Host: "registry.example.com", Repository: "library/nginx", Tag: "latest"}
	digest, err := c.HeadDigest(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "sha256:cafef00d", digest)
	assert.Equal(t, "Bearer anon-token", sawToken)
}

func TestHeadDigestAuthRequired(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	ref := Reference{Host: "private.example.com", Repository: "team/app", Tag: "latest"}
	_, err := c.HeadDigest(context.Background(), ref)
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestHeadDigestMissingHeader(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ref := Reference{Host: "registry-1.docker.io", Repository: "library/nginx", Tag: "latest"}
	_, err := c.HeadDigest(context.Background(), ref)
	assert.ErrorIs(t, err, ErrNoDigest)
}

func TestParseBearerChallenge(t *testing.T) {
	params := parseBearerChallenge(`Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/nginx:pull"`)

	assert.Equal(t, "https://auth.docker.io/token", params["realm"])
	assert.Equal(t, "registry.docker.io", params["service"])
	assert.Equal(t, "repository:library/nginx:pull", params["scope"])

	assert.Empty(t, parseBearerChallenge("Basic realm=test"))
	assert.Empty(t, parseBearerChallenge(""))
}
