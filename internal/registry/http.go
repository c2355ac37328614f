package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/agentpack-labs/agentpack/internal/constraint"
	"github.com/agentpack-labs/agentpack/internal/manifest"
)

// Retry policy for transient transport failures: 3 attempts, base delay
// 200ms, factor 2.
const (
	retryBaseDelay  = 200 * time.Millisecond
	retryMaxRetries = 2
)

// HTTPClient fetches manifests and bundles from a remote registry with
// the layout <base>/<name>/index.json (version listing),
// <base>/<name>/<version>/manifest.json, and
// <base>/<name>/<version>/files/<src>.
type HTTPClient struct {
	base *url.URL
	hc   *http.Client
	log  zerolog.Logger
}

// versionIndex is the wire shape of a component's index.json.
type versionIndex struct {
	Versions []string `json:"versions"`
}

// NewHTTPClient creates a client for the registry at baseURL.
func NewHTTPClient(baseURL string, log zerolog.Logger) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing registry URL %q: %w", baseURL, err)
	}
	// ResolveReference drops the last path segment without this.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return &HTTPClient{
		base: base,
		hc:   &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}, nil
}

func (c *HTTPClient) FetchManifest(ctx context.Context, name string, rng *constraint.Range) (*manifest.Manifest, error) {
	versions, err := c.fetchIndex(ctx, name)
	if err != nil {
		return nil, &FetchError{Name: name, Constraint: rng.String(), Err: err}
	}

	best := pickHighest(versions, rng)
	if best == nil {
		return nil, &FetchError{
			Name:       name,
			Constraint: rng.String(),
			Err:        fmt.Errorf("no version among %d candidates satisfies the constraint", len(versions)),
		}
	}

	raw, err := c.get(ctx, name, best.Original(), manifestFileName)
	if err != nil {
		return nil, &FetchError{Name: name, Constraint: rng.String(), Err: err}
	}

	m, err := manifest.Load(raw)
	if err != nil {
		return nil, &FetchError{Name: name, Constraint: rng.String(), Err: err}
	}
	return m, nil
}

// FetchBundle fetches the exact version's manifest to learn the bundle's
// file list, then fetches each source file.
func (c *HTTPClient) FetchBundle(ctx context.Context, name, version string) (map[string][]byte, error) {
	raw, err := c.get(ctx, name, version, manifestFileName)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	m, err := manifest.Load(raw)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}

	files := make(map[string][]byte, len(m.Files))
	for _, f := range m.Files {
		data, err := c.get(ctx, name, version, bundleDirName+"/"+f.Src)
		if err != nil {
			return nil, &FetchError{Name: name, Err: fmt.Errorf("fetching bundle file %s: %w", f.Src, err)}
		}
		files[f.Src] = data
	}
	return files, nil
}

func (c *HTTPClient) fetchIndex(ctx context.Context, name string) ([]*semver.Version, error) {
	raw, err := c.getPath(ctx, name+"/index.json")
	if err != nil {
		return nil, err
	}

	var idx versionIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parsing index.json: %w", err)
	}

	var versions []*semver.Version
	for _, s := range idx.Versions {
		v, err := semver.NewVersion(s)
		if err != nil {
			c.log.Warn().Str("component", name).Str("version", s).Msg("skipping unparseable version in index")
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("index lists no usable versions")
	}
	return versions, nil
}

func (c *HTTPClient) get(ctx context.Context, name, version, rest string) ([]byte, error) {
	return c.getPath(ctx, name+"/"+version+"/"+rest)
}

// getPath performs a GET relative to the registry base, retrying transient
// failures with exponential backoff.
func (c *HTTPClient) getPath(ctx context.Context, relPath string) ([]byte, error) {
	ref, err := url.Parse(relPath)
	if err != nil {
		return nil, err
	}
	target := c.base.ResolveReference(ref).String()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseDelay
	policy.Multiplier = 2

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err = io.ReadAll(resp.Body)
			return err
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("GET %s: not found", target))
		case resp.StatusCode >= 500:
			return fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("GET %s: status %d", target, resp.StatusCode))
		}
	}

	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, retryMaxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}
