package oras

import (
	"context"
	"errors"
	"net"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// ErrReadOnlyStore is returned when saving to or deleting from a credential
// store built from fixed credentials.
var ErrReadOnlyStore = errors.New("oci: credential store is read-only")

// dockerHub is the key Docker Hub aliases are folded into.
const dockerHub = "docker.io"

// Keys the docker CLI and credential helpers have used for Docker Hub, in
// lookup order.
var dockerHubConfigKeys = []string{
	"https://index.docker.io/v1/",
	"index.docker.io",
	"registry-1.docker.io",
	"docker.io",
}

// DefaultCredentialStore reads the local docker configuration and its
// credential helpers. Docker Hub entries are found under any of the
// names the docker CLI writes them with.
func DefaultCredentialStore() (credentials.Store, error) {
	store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		return nil, err
	}
	return &dockerConfigStore{Store: store}, nil
}

// StaticCredentials answers registry with a username and password and
// every other host anonymously.
func StaticCredentials(registry, username, password string) credentials.Store {
	return &hostStore{
		host: hostKey(registry),
		cred: auth.Credential{Username: username, Password: password},
	}
}

// StaticToken answers registry with a bearer token and every other host
// anonymously.
func StaticToken(registry, token string) credentials.Store {
	return &hostStore{
		host: hostKey(registry),
		cred: auth.Credential{AccessToken: token},
	}
}

// BearerToken answers every host with the same token. It is meant for a
// session token handed out by the platform's login flow, which is valid
// for whichever registry the platform fronts.
func BearerToken(token string) credentials.Store {
	return sessionStore{cred: auth.Credential{AccessToken: token}}
}

type readOnly struct{}

func (readOnly) Put(context.Context, string, auth.Credential) error { return ErrReadOnlyStore }
func (readOnly) Delete(context.Context, string) error               { return ErrReadOnlyStore }

type hostStore struct {
	readOnly
	host string
	cred auth.Credential
}

func (s *hostStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	if hostKey(serverAddress) != s.host {
		return auth.EmptyCredential, nil
	}
	return s.cred, nil
}

type sessionStore struct {
	readOnly
	cred auth.Credential
}

func (s sessionStore) Get(context.Context, string) (auth.Credential, error) {
	return s.cred, nil
}

// dockerConfigStore retries Docker Hub lookups under its historical keys.
type dockerConfigStore struct {
	credentials.Store
}

func (s *dockerConfigStore) Get(ctx context.Context, serverAddress string) (auth.Credential, error) {
	cred, err := s.Store.Get(ctx, serverAddress)
	if (err == nil && !empty(cred)) || hostKey(serverAddress) != dockerHub {
		return cred, err
	}
	for _, key := range dockerHubConfigKeys {
		if key == serverAddress {
			continue
		}
		if alt, altErr := s.Store.Get(ctx, key); altErr == nil && !empty(alt) {
			return alt, nil
		}
	}
	return cred, err
}

// hostKey reduces a server address to the host[:port] credentials are
// matched on. Schemes and paths are dropped and Docker Hub aliases fold
// into one key.
func hostKey(addr string) string {
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimPrefix(addr, "http://")
	addr, _, _ = strings.Cut(addr, "/")
	addr = strings.ToLower(addr)
	switch hostname(addr) {
	case "docker.io", "index.docker.io", "registry-1.docker.io":
		return dockerHub
	}
	return addr
}

// hostname strips the port from hostport, leaving IPv6 brackets off.
func hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return strings.Trim(hostport, "[]")
}

func empty(cred auth.Credential) bool {
	return cred.Username == "" && cred.Password == "" && cred.AccessToken == "" && cred.RefreshToken == ""
}
