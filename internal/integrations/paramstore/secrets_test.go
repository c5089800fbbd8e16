package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, values map[string]string) *Client {
	t.Helper()
	c, err := New(&fakeAPI{values: values})
	require.NoError(t, err)
	return c
}

func TestResolveSecrets_JSONToken(t *testing.T) {
	c := newTestClient(t, map[string]string{
		"/chat-sync/upstash-rest-token": `{"token":"tok-123"}`,
		"/chat-sync/mongodb-uri":        " mongodb+srv://cluster/db \n",
	})
	s, err := ResolveSecrets(context.Background(), c, "/chat-sync/")
	require.NoError(t, err)
	require.Equal(t, "tok-123", s.UpstashToken)
	require.Equal(t, "mongodb+srv://cluster/db", s.MongoURI)
}

func TestResolveSecrets_BareTokenAndMissingURI(t *testing.T) {
	c := newTestClient(t, map[string]string{"/cs/upstash-rest-token": "plain"})
	s, err := ResolveSecrets(context.Background(), c, "/cs")
	require.NoError(t, err)
	require.Equal(t, "plain", s.UpstashToken)
	require.Empty(t, s.MongoURI)
}

func TestResolveSecrets_BadPayload(t *testing.T) {
	c := newTestClient(t, map[string]string{"/cs/upstash-rest-token": `{"token":""}`})
	_, err := ResolveSecrets(context.Background(), c, "/cs")
	require.ErrorContains(t, err, "missing token")

	c = newTestClient(t, map[string]string{"/cs/upstash-rest-token": `{not json`})
	_, err = ResolveSecrets(context.Background(), c, "/cs")
	require.ErrorContains(t, err, "parse token payload")
}

func TestResolveSecrets_Errors(t *testing.T) {
	_, err := ResolveSecrets(context.Background(), nil, "/cs")
	require.Error(t, err)

	_, err = ResolveSecrets(context.Background(), newTestClient(t, nil), " ")
	require.ErrorContains(t, err, "prefix is required")

	c, err := New(&fakeAPI{getErr: errors.New("AccessDenied")})
	require.NoError(t, err)
	_, err = ResolveSecrets(context.Background(), c, "/cs")
	require.ErrorContains(t, err, "AccessDenied")
}
