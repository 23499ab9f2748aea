package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DatabaseProvider creates and drops isolated per-tenant databases.
type DatabaseProvider interface {
	CreateDatabase(ctx context.Context, tenantID string) (databaseURL string, err error)
	DropDatabase(ctx context.Context, tenantID string) error
}

// Neon talks to a Neon-style database API: one database per tenant inside a
// shared project, named tenant_<id> with underscores for SQL friendliness.
type Neon struct {
	baseURL   string
	apiKey    string
	projectID string
	http      *http.Client
	log       *zap.SugaredLogger
}

func NewNeon(baseURL, apiKey, projectID string, log *zap.SugaredLogger) *Neon {
	return &Neon{
		baseURL:   baseURL,
		apiKey:    apiKey,
		projectID: projectID,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

func databaseName(tenantID string) string {
	name := "tenant_"
	for _, r := range tenantID {
		if r == '-' {
			name += "_"
		} else {
			name += string(r)
		}
	}
	return name
}

type neonDatabase struct {
	Database struct {
		Name string `json:"name"`
	} `json:"database"`
	ConnectionURI string `json:"connection_uri"`
}

func (n *Neon) CreateDatabase(ctx context.Context, tenantID string) (string, error) {
	payload := map[string]any{
		"database": map[string]any{"name": databaseName(tenantID)},
	}
	endpoint := fmt.Sprintf("%s/api/v2/projects/%s/databases", n.baseURL, n.projectID)
	raw, err := n.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}
	var db neonDatabase
	if err := json.Unmarshal(raw, &db); err != nil {
		return "", fmt.Errorf("%w: decoding database response: %v", ErrPlatform, err)
	}
	if db.ConnectionURI == "" {
		return "", fmt.Errorf("%w: database created without connection uri", ErrPlatform)
	}
	n.log.Infow("tenant database created", "tenant", tenantID, "database", db.Database.Name)
	return db.ConnectionURI, nil
}

func (n *Neon) DropDatabase(ctx context.Context, tenantID string) error {
	endpoint := fmt.Sprintf("%s/api/v2/projects/%s/databases/%s", n.baseURL, n.projectID, databaseName(tenantID))
	_, err := n.do(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		var pe *platformError
		if errors.As(err, &pe) && pe.status == http.StatusNotFound {
			n.log.Infow("tenant database not found, skipping drop", "tenant", tenantID)
			return nil
		}
		return err
	}
	return nil
}

func (n *Neon) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
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
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlatform, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &platformError{status: resp.StatusCode, body: string(raw)}
	}
	return raw, nil
}
