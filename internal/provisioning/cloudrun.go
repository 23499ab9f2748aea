package provisioning

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vendin/pkg/tenants"
)

var (
	// ErrMissingServiceURL means the platform accepted the request and the
	// operation completed, but no reachable URL came back. Distinct from a
	// rejected request so the orchestrator can make the right rollback call.
	ErrMissingServiceURL = errors.New("provisioning: operation completed without a service url")
	// ErrPlatform wraps platform API rejections.
	ErrPlatform = errors.New("provisioning: platform request failed")
)

// Request is the ephemeral input to a provisioning run; consumed once.
type Request struct {
	TenantID    string
	Subdomain   string
	DatabaseURL string
	Image       string // optional override of the configured tenant image
	Plan        tenants.Plan
}

// Provisioner creates and tears down a tenant's dedicated compute service.
type Provisioner interface {
	Provision(ctx context.Context, req Request) (serviceURL string, err error)
	Destroy(ctx context.Context, tenantID string) error
}

// TokenSource supplies platform API access tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// CloudRun drives a Cloud Run v2-style REST API. Services are named
// tenant-<id> under a fixed project/region parent, run the tenant image with
// per-tenant secrets injected as env, scale to zero, and are capped by the
// plan's resource ceiling.
type CloudRun struct {
	baseURL        string
	projectID      string
	region         string
	serviceAccount string
	image          string
	rootDomain     string
	plans          Catalog
	tokens         TokenSource
	http           *http.Client
	log            *zap.SugaredLogger

	pollInterval time.Duration
}

func NewCloudRun(baseURL, projectID, region, serviceAccount, image, rootDomain string, plans Catalog, tokens TokenSource, log *zap.SugaredLogger) *CloudRun {
	return &CloudRun{
		baseURL:        baseURL,
		projectID:      projectID,
		region:         region,
		serviceAccount: serviceAccount,
		image:          image,
		rootDomain:     rootDomain,
		plans:          plans,
		tokens:         tokens,
		http:           &http.Client{Timeout: 30 * time.Second},
		log:            log,
		pollInterval:   3 * time.Second,
	}
}

func (c *CloudRun) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.projectID, c.region)
}

func serviceID(tenantID string) string { return "tenant-" + tenantID }

type envVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type serviceSpec struct {
	Template struct {
		ServiceAccount string `json:"serviceAccount,omitempty"`
		Scaling        struct {
			MinInstanceCount int `json:"minInstanceCount"`
			MaxInstanceCount int `json:"maxInstanceCount"`
		} `json:"scaling"`
		Containers []containerSpec `json:"containers"`
	} `json:"template"`
}

type containerSpec struct {
	Image     string   `json:"image"`
	Env       []envVar `json:"env"`
	Resources struct {
		Limits  map[string]string `json:"limits"`
		CPUIdle bool              `json:"cpuIdle"`
	} `json:"resources"`
	Ports []struct {
		ContainerPort int `json:"containerPort"`
	} `json:"ports"`
}

type operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *operationError `json:"error"`
	Response struct {
		URI string `json:"uri"`
	} `json:"response"`
}

type operationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Provision submits the create-service request and awaits the resulting
// long-running operation. The returned URL is the operation's, verbatim.
func (c *CloudRun) Provision(ctx context.Context, req Request) (string, error) {
	image := req.Image
	if image == "" {
		image = c.image
	}

	// Independent per-tenant secrets; never reused across tenants.
	cookieSecret, err := randomSecret()
	if err != nil {
		return "", err
	}
	jwtSecret, err := randomSecret()
	if err != nil {
		return "", err
	}

	res := c.plans.For(req.Plan)
	spec := serviceSpec{}
	spec.Template.ServiceAccount = c.serviceAccount
	spec.Template.Scaling.MinInstanceCount = 0 // scale to zero when idle
	spec.Template.Scaling.MaxInstanceCount = res.MaxInstances
	container := containerSpec{
		Image: image,
		Env: []envVar{
			{Name: "DATABASE_URL", Value: req.DatabaseURL},
			{Name: "COOKIE_SECRET", Value: cookieSecret},
			{Name: "JWT_SECRET", Value: jwtSecret},
			{Name: "HOST", Value: "0.0.0.0"},
			{Name: "STORE_CORS", Value: fmt.Sprintf("https://%s.%s,https://%s", req.Subdomain, c.rootDomain, c.rootDomain)},
		},
	}
	container.Resources.Limits = map[string]string{"cpu": res.CPU, "memory": res.Memory}
	container.Resources.CPUIdle = true
	container.Ports = []struct {
		ContainerPort int `json:"containerPort"`
	}{{ContainerPort: 9000}}
	spec.Template.Containers = []containerSpec{container}

	endpoint := fmt.Sprintf("%s/v2/%s/services?serviceId=%s", c.baseURL, c.parent(), serviceID(req.TenantID))
	op, err := c.do(ctx, http.MethodPost, endpoint, spec)
	if err != nil {
		return "", err
	}
	c.log.Infow("service create submitted", "tenant", req.TenantID, "operation", op.Name)

	final, err := c.awaitOperation(ctx, op)
	if err != nil {
		return "", err
	}
	if final.Response.URI == "" {
		return "", ErrMissingServiceURL
	}
	c.log.Infow("service deployed", "tenant", req.TenantID, "uri", final.Response.URI)
	return final.Response.URI, nil
}

// Destroy deletes the tenant's service. A missing service is not an error so
// rollback stays idempotent.
func (c *CloudRun) Destroy(ctx context.Context, tenantID string) error {
	endpoint := fmt.Sprintf("%s/v2/%s/services/%s", c.baseURL, c.parent(), serviceID(tenantID))
	op, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		var pe *platformError
		if errors.As(err, &pe) && pe.status == http.StatusNotFound {
			c.log.Infow("service not found, skipping delete", "tenant", tenantID)
			return nil
		}
		return err
	}
	_, err = c.awaitOperation(ctx, op)
	return err
}

func (c *CloudRun) awaitOperation(ctx context.Context, op *operation) (*operation, error) {
	for {
		if op.Done {
			if op.Error != nil {
				return nil, fmt.Errorf("%w: operation failed: %s", ErrPlatform, op.Error.Message)
			}
			return op, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		next, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v2/%s", c.baseURL, op.Name), nil)
		if err != nil {
			return nil, err
		}
		op = next
	}
}

type platformError struct {
	status int
	body   string
}

func (e *platformError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.status, e.body)
}

func (e *platformError) Unwrap() error { return ErrPlatform }

func (c *CloudRun) do(ctx context.Context, method, endpoint string, body any) (*operation, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatform, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatform, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &platformError{status: resp.StatusCode, body: string(raw)}
	}
	var op operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("%w: decoding operation: %v", ErrPlatform, err)
	}
	return &op, nil
}

// randomSecret returns 32 bytes of entropy, base64-encoded for env injection.
func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
