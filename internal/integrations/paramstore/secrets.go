package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Parameter names below the configured prefix.
const (
	UpstashTokenParam = "upstash-rest-token"
	MongoURIParam     = "mongodb-uri"
)

// Secrets are the credentials the sync job may pull from Parameter Store.
// Empty fields were not found and keep their environment value.
type Secrets struct {
	UpstashToken string
	MongoURI     string
}

// tokenPayload is the JSON shape stored for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// ResolveSecrets reads the sync job's credentials under prefix. Missing
// parameters are not an error.
func ResolveSecrets(ctx context.Context, g Getter, prefix string) (Secrets, error) {
	if g == nil {
		return Secrets{}, errors.New("paramstore: getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return Secrets{}, errors.New("paramstore: prefix is required")
	}

	var s Secrets
	raw, err := lookup(ctx, g, prefix+"/"+UpstashTokenParam)
	if err != nil {
		return Secrets{}, err
	}
	if raw != "" {
		s.UpstashToken, err = parseToken(raw)
		if err != nil {
			return Secrets{}, err
		}
	}

	s.MongoURI, err = lookup(ctx, g, prefix+"/"+MongoURIParam)
	if err != nil {
		return Secrets{}, err
	}
	s.MongoURI = strings.TrimSpace(s.MongoURI)
	return s, nil
}

func lookup(ctx context.Context, g Getter, name string) (string, error) {
	v, err := g.GetParameter(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// parseToken accepts either {"token": "..."} or the bare token.
func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	var p tokenPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", fmt.Errorf("paramstore: parse token payload: %w", err)
	}
	if strings.TrimSpace(p.Token) == "" {
		return "", errors.New("paramstore: token payload missing token")
	}
	return strings.TrimSpace(p.Token), nil
}
