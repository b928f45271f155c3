package tenant

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
)

const valkeyKeyPrefix = "helparr:tenant:"

type valkeyStore struct {
	client valkey.Client
}

// NewValkey connects to a Valkey/Redis server and verifies it with a ping
// before returning the store.
func NewValkey(cfg config.ValkeyConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("tenant: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("tenant: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("tenant: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("tenant: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("tenant: valkey ping: %w", err)
	}

	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) Load(ctx context.Context, id string) (Record, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(valkeyKeyPrefix+id).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("tenant: valkey get: %w", err)
	}
	raw, err := resp.AsBytes()
	if err != nil {
		return Record{}, fmt.Errorf("tenant: valkey read: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("tenant: valkey decode: %w", err)
	}
	return rec, nil
}

// Save performs a read-merge-write cycle. Concurrent writers may interleave;
// last writer wins, which matches the store's eventual-consistency contract.
func (s *valkeyStore) Save(ctx context.Context, id string, patch Patch) error {
	rec, err := s.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec = Record{ID: id}
	}
	rec = applyPatch(rec, patch)

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tenant: valkey encode: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(valkeyKeyPrefix+id).Value(string(raw)).Build()).Error(); err != nil {
		return fmt.Errorf("tenant: valkey set: %w", err)
	}
	return nil
}

func (s *valkeyStore) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("tenant: valkey ping: %w", err)
	}
	return nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
