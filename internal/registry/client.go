package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrAuthRequired is returned when a registry rejects the manifest request
// even after the anonymous token exchange. Private registries are out of
// scope; callers count this as a per-item error and move on.
var ErrAuthRequired = errors.New("registry requires authentication")

// ErrNoDigest is returned when the registry response carries no content digest
var ErrNoDigest = errors.New("registry response carried no content digest")

// Accept values asking for a manifest list or OCI index so the digest
// identifies the multi-platform manifest, matching what `docker pull`
// resolves against
const acceptManifests = "application/vnd.docker.distribution.manifest.list.v2+json, " +
	"application/vnd.oci.image.index.v1+json, " +
	"application/vnd.docker.distribution.manifest.v2+json, " +
	"application/vnd.oci.image.manifest.v1+json"

const digestHeader = "Docker-Content-Digest"

// Client fetches manifest digests from container registries without ever
// transferring manifest or image bytes
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a registry client with a fixed per-request timeout
func NewClient(timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "registry-client").Logger(),
	}
}

// HeadDigest issues a metadata-only manifest request for the reference and
// returns the canonical content digest reported by the registry
func (c *Client) HeadDigest(ctx context.Context, ref Reference) (string, error) {
	digest, status, err := c.head(ctx, ref, "")
	if err != nil {
		return "", err
	}

	// Public registries hand out anonymous bearer tokens on challenge;
	// one exchange and retry covers them. Anything still refusing is a
	// private registry and out of scope.
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		token, tokenErr := c.fetchAnonymousToken(ctx, ref)
		if tokenErr != nil {
			return "", fmt.Errorf("%w: %s", ErrAuthRequired, ref)
		}

		digest, status, err = c.head(ctx, ref, token)
		if err != nil {
			return "", err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return "", fmt.Errorf("%w: %s", ErrAuthRequired, ref)
		}
	}

	if status != http.StatusOK {
		return "", fmt.Errorf("registry returned status %d for %s", status, ref)
	}

	if digest == "" {
		return "", fmt.Errorf("%w: %s", ErrNoDigest, ref)
	}

	return digest, nil
}

func (c *Client) head(ctx context.Context, ref Reference, token string) (digest string, status int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref.ManifestURL(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("build manifest request: %w", err)
	}
	req.Header.Set("Accept", acceptManifests)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("manifest request for %s: %w", ref, err)
	}
	defer resp.Body.Close()

	return resp.Header.Get(digestHeader), resp.StatusCode, nil
}

// fetchAnonymousToken performs the token half of the bearer challenge flow
// with no credentials attached
func (c *Client) fetchAnonymousToken(ctx context.Context, ref Reference) (string, error) {
	challengeURL, err := c.discoverChallenge(ctx, ref)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, challengeURL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	token := body.Token
	if token == "" {
		token = body.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("token endpoint returned no token")
	}

	return token, nil
}

// discoverChallenge reads the WWW-Authenticate bearer challenge from the
// manifest endpoint and builds the matching token URL
func (c *Client) discoverChallenge(ctx context.Context, ref Reference) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref.ManifestURL(), nil)
	if err != nil {
		return "", fmt.Errorf("build challenge request: %w", err)
	}
	req.Header.Set("Accept", acceptManifests)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("challenge request: %w", err)
	}
	defer resp.Body.Close()

	challenge := resp.Header.Get("WWW-Authenticate")
	params := parseBearerChallenge(challenge)
	realm := params["realm"]
	if realm == "" {
		return "", fmt.Errorf("registry sent no bearer challenge")
	}

	url := realm + "?service=" + params["service"]
	if scope := params["scope"]; scope != "" {
		url += "&scope=" + scope
	} else {
		url += "&scope=repository:" + ref.Repository + ":pull"
	}

	return url, nil
}

func parseBearerChallenge(header string) map[string]string {
	params := make(map[string]string)

	rest, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return params
	}

	for _, part := range strings.Split(rest, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		params[key] = strings.Trim(value, `"`)
	}

	return params
}
