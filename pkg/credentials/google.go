// pkg/credentials/google.go
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrNoCredentials means no service-account material was configured.
	ErrNoCredentials = errors.New("service account credentials not configured")
	// ErrInvalidCredentials means the material was present but unusable.
	ErrInvalidCredentials = errors.New("invalid service account credentials")
)

// ServiceAccount is the parsed key descriptor for a Google-style service
// account. Only the fields the token flows need are kept.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount accepts either the key JSON itself or a path to a file
// containing it (the two shapes GOOGLE_APPLICATION_CREDENTIALS is observed
// to carry). Malformed JSON fails fast.
func ParseServiceAccount(material string) (ServiceAccount, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return ServiceAccount{}, ErrNoCredentials
	}
	raw := []byte(material)
	if !strings.HasPrefix(material, "{") {
		b, err := os.ReadFile(material)
		if err != nil {
			return ServiceAccount{}, fmt.Errorf("%w: reading key file: %v", ErrInvalidCredentials, err)
		}
		raw = b
	}
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return ServiceAccount{}, fmt.Errorf("%w: missing client_email or private_key", ErrInvalidCredentials)
	}
	if sa.TokenURI == "" {
		sa.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return sa, nil
}
