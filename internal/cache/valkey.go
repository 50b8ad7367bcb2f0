package cache

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ErrValkeyUnavailable is returned by write operations while the distributed
// tier is marked unhealthy. Callers treat it as a degradation signal, never as
// a request failure.
var ErrValkeyUnavailable = errors.New("cache: valkey unavailable")

const (
	// healthInterval bounds how often the tier re-probes a node, so a down
	// valkey costs at most one ping per interval instead of one per request.
	healthInterval = 30 * time.Second
	// callTimeout caps every individual valkey command; the distributed
	// tier must never hold a chat request hostage.
	callTimeout = 2 * time.Second
)

// ValkeyTLSConfig controls TLS for the distributed tier connection.
type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

// ValkeyConfig configures the distributed cache tier.
type ValkeyConfig struct {
	Address     string
	Username    string
	Password    string
	DB          int
	TTL         time.Duration
	Compression bool
	TLS         ValkeyTLSConfig
}

// Valkey is the optional distributed second cache tier. Unlike the local
// tier it can fail at any time, so every method degrades to a miss or a
// no-op instead of propagating transport errors upward.
type Valkey struct {
	client      valkey.Client
	ttl         time.Duration
	compression bool
	logger      *slog.Logger

	healthMu    sync.Mutex
	healthy     bool
	lastChecked time.Time

	now func() time.Time
}

// ValkeyStats is a point-in-time snapshot of the distributed tier.
type ValkeyStats struct {
	Healthy bool  `json:"healthy"`
	Keys    int64 `json:"keys"`
}

// NewValkey connects to the configured valkey node. A failed initial ping is
// not fatal: the tier comes up unhealthy and retries on its probe schedule,
// so the service can start while valkey is still booting.
func NewValkey(cfg ValkeyConfig, logger *slog.Logger) (*Valkey, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache: valkey ttl must be positive, got %s", cfg.TTL)
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
				return nil, fmt.Errorf("cache: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	v := &Valkey{
		client:      client,
		ttl:         cfg.TTL,
		compression: cfg.Compression,
		logger:      logger.With(slog.String("subsystem", "cache"), slog.String("tier", "valkey")),
		now:         time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	v.healthy = client.Do(ctx, client.B().Ping().Build()).Error() == nil
	v.lastChecked = v.now()
	if !v.healthy {
		v.logger.Warn("distributed cache tier starting unhealthy", slog.String("address", cfg.Address))
	}

	return v, nil
}

// Healthy reports whether the tier is currently usable, re-probing the node
// at most once per health interval.
func (v *Valkey) Healthy(ctx context.Context) bool {
	v.healthMu.Lock()
	defer v.healthMu.Unlock()

	if v.now().Sub(v.lastChecked) < healthInterval {
		return v.healthy
	}

	pingCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	wasHealthy := v.healthy
	v.healthy = v.client.Do(pingCtx, v.client.B().Ping().Build()).Error() == nil
	v.lastChecked = v.now()
	if v.healthy != wasHealthy {
		if v.healthy {
			v.logger.Info("distributed cache tier recovered")
		} else {
			v.logger.Warn("distributed cache tier unhealthy, continuing local-only")
		}
	}
	return v.healthy
}

// Get returns the cached response for key. Misses, transport failures, and
// undecodable payloads all report (zero, false, err); only the error
// distinguishes a degradation from a clean miss.
func (v *Valkey) Get(ctx context.Context, key Key) (Response, bool, error) {
	if !v.Healthy(ctx) {
		return Response{}, false, ErrValkeyUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp := v.client.Do(callCtx, v.client.B().Get().Key(string(key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Response{}, false, nil
		}
		v.markUnhealthy()
		return Response{}, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Response{}, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}

	var out Response
	if err := json.Unmarshal(decompress(payload), &out); err != nil {
		return Response{}, false, fmt.Errorf("cache: valkey unmarshal: %w", err)
	}
	return out, true, nil
}

// Set stores resp under key with the tier's TTL. When compression is enabled
// the payload is zlib-deflated before the write; readers transparently accept
// both forms, so the flag can be toggled without flushing.
func (v *Valkey) Set(ctx context.Context, key Key, resp Response) error {
	if !v.Healthy(ctx) {
		return ErrValkeyUnavailable
	}

	if resp.Timestamp.IsZero() {
		resp.Timestamp = v.now().UTC()
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache: valkey marshal: %w", err)
	}
	if v.compression {
		payload = compress(payload)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	cmd := v.client.B().Set().Key(string(key)).Value(valkey.BinaryString(payload)).Px(v.ttl).Build()
	if err := v.client.Do(callCtx, cmd).Error(); err != nil {
		v.markUnhealthy()
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

// ClearPrefix deletes every response entry in the tier's namespace and
// reports how many keys were removed. Returns 0 without touching the network
// while the tier is unhealthy.
func (v *Valkey) ClearPrefix(ctx context.Context) (int, error) {
	if !v.Healthy(ctx) {
		return 0, nil
	}

	removed := 0
	cursor := uint64(0)
	for {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		resp := v.client.Do(callCtx, v.client.B().Scan().Cursor(cursor).Match(keyPrefix+"*").Count(100).Build())
		entry, err := resp.AsScanEntry()
		cancel()
		if err != nil {
			v.markUnhealthy()
			return removed, fmt.Errorf("cache: valkey scan: %w", err)
		}

		if len(entry.Elements) > 0 {
			delCtx, delCancel := context.WithTimeout(ctx, callTimeout)
			err := v.client.Do(delCtx, v.client.B().Del().Key(entry.Elements...).Build()).Error()
			delCancel()
			if err != nil {
				v.markUnhealthy()
				return removed, fmt.Errorf("cache: valkey del: %w", err)
			}
			removed += len(entry.Elements)
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Stats snapshots the tier's health and key count. The key count is zero when
// the tier is unreachable.
func (v *Valkey) Stats(ctx context.Context) ValkeyStats {
	stats := ValkeyStats{Healthy: v.Healthy(ctx)}
	if !stats.Healthy {
		return stats
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	size, err := v.client.Do(callCtx, v.client.B().Dbsize().Build()).ToInt64()
	if err == nil {
		stats.Keys = size
	}
	return stats
}

// Close releases the underlying client.
func (v *Valkey) Close() {
	v.client.Close()
}

func (v *Valkey) markUnhealthy() {
	v.healthMu.Lock()
	if v.healthy {
		v.logger.Warn("distributed cache tier unhealthy, continuing local-only")
	}
	v.healthy = false
	v.lastChecked = v.now()
	v.healthMu.Unlock()
}

func compress(payload []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		return payload
	}
	if err := w.Close(); err != nil {
		return payload
	}
	return buf.Bytes()
}

// decompress inflates zlib payloads and passes anything else through
// unchanged, so entries written before compression was enabled stay readable.
func decompress(payload []byte) []byte {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return payload
	}
	defer r.Close()
	inflated, err := io.ReadAll(r)
	if err != nil {
		return payload
	}
	return inflated
}
