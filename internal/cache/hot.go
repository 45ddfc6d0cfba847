package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rendercove/prerender/internal/common/redis"
	"github.com/rendercove/prerender/pkg/types"
)

// Metadata describes a HotCache page entry. It lives in a Redis hash next
// to the body so readers can interpret the bytes without guessing.
type Metadata struct {
	URL         string
	Complete    bool
	RenderedAt  time.Time
	Size        int64 // uncompressed body size
	Compression string
}

// ToHash converts Metadata to Redis hash fields.
func (m *Metadata) ToHash() map[string]interface{} {
	return map[string]interface{}{
		"url":         m.URL,
		"complete":    strconv.FormatBool(m.Complete),
		"rendered_at": m.RenderedAt.Unix(),
		"size":        m.Size,
		"compression": m.Compression,
	}
}

// FromHash populates Metadata from Redis hash fields.
func (m *Metadata) FromHash(data map[string]string) error {
	m.URL = data["url"]
	m.Compression = data["compression"]
	if m.Compression == "" {
		m.Compression = types.CompressionNone
	}

	complete, err := strconv.ParseBool(data["complete"])
	if err != nil {
		return fmt.Errorf("invalid complete flag: %w", err)
	}
	m.Complete = complete

	if renderedAt, err := strconv.ParseInt(data["rendered_at"], 10, 64); err != nil {
		return fmt.Errorf("invalid rendered_at: %w", err)
	} else {
		m.RenderedAt = time.Unix(renderedAt, 0).UTC()
	}

	if size, err := strconv.ParseInt(data["size"], 10, 64); err != nil {
		return fmt.Errorf("invalid size: %w", err)
	} else {
		m.Size = size
	}

	return nil
}

// Age returns how long ago the entry was rendered.
func (m *Metadata) Age() time.Duration {
	return time.Since(m.RenderedAt)
}

// CompressionRecorder receives compression outcomes for metrics.
type CompressionRecorder interface {
	RecordCompressionRatio(algorithm string, ratio float64)
	RecordBytesSaved(algorithm string, bytesSaved int64)
	RecordDecompressionError(algorithm string)
}

// HotCache is the Redis page-cache tier. Each entry is a body key plus a
// metadata hash sharing one TTL; the body is written first so a reader that
// sees the metadata always finds the body.
type HotCache struct {
	redis       *redis.Client
	compression string
	recorder    CompressionRecorder
	logger      *zap.Logger
}

// NewHotCache creates the Redis cache tier. compression selects the body
// encoding for new writes; recorder may be nil.
func NewHotCache(client *redis.Client, compression string, recorder CompressionRecorder, logger *zap.Logger) *HotCache {
	return &HotCache{
		redis:       client,
		compression: compression,
		recorder:    recorder,
		logger:      logger,
	}
}

// Get returns the cached render result for a key, or found=false on miss.
// A corrupt entry is dropped and reported as an error so the caller can
// fall through to a fresh render.
func (h *HotCache) Get(ctx context.Context, key string) (*types.RenderResult, bool, error) {
	fields, err := h.redis.HGetAll(ctx, redis.MetadataKey(key))
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	var meta Metadata
	if err := meta.FromHash(fields); err != nil {
		h.logger.Warn("Dropping unreadable cache metadata",
			zap.String("cache_key", key),
			zap.Error(err))
		h.Delete(ctx, key)
		return nil, false, nil
	}

	body, err := h.redis.GetBytes(ctx, redis.PageKey(key))
	if err != nil {
		return nil, false, err
	}
	if body == nil {
		// Body expired ahead of the metadata hash
		return nil, false, nil
	}

	html, err := Decompress(body, meta.Compression)
	if err != nil {
		if h.recorder != nil {
			h.recorder.RecordDecompressionError(meta.Compression)
		}
		h.logger.Error("Cache decompression failed, dropping entry",
			zap.String("cache_key", key),
			zap.String("compression", meta.Compression),
			zap.Error(err))
		h.Delete(ctx, key)
		return nil, false, err
	}

	return &types.RenderResult{
		HTML:     html,
		Complete: meta.Complete,
		FinalURL: meta.URL,
	}, true, nil
}

// Set stores a render result under the key with the given TTL.
func (h *HotCache) Set(ctx context.Context, key string, normalizedURL string, result *types.RenderResult, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("refusing to cache with non-positive TTL %s", ttl)
	}

	body, algorithm, err := Compress(result.HTML, h.compression)
	if err != nil {
		return fmt.Errorf("compress page body: %w", err)
	}

	if h.recorder != nil && algorithm != types.CompressionNone {
		h.recorder.RecordCompressionRatio(algorithm, float64(len(body))/float64(len(result.HTML)))
		h.recorder.RecordBytesSaved(algorithm, int64(len(result.HTML)-len(body)))
	}

	if err := h.redis.Set(ctx, redis.PageKey(key), body, ttl); err != nil {
		return err
	}

	meta := Metadata{
		URL:         normalizedURL,
		Complete:    result.Complete,
		RenderedAt:  time.Now().UTC(),
		Size:        int64(len(result.HTML)),
		Compression: algorithm,
	}

	fields := make([]interface{}, 0, 10)
	for k, v := range meta.ToHash() {
		fields = append(fields, k, v)
	}

	if err := h.redis.HSetWithExpire(ctx, redis.MetadataKey(key), ttl, fields...); err != nil {
		return err
	}

	h.logger.Debug("HotCache entry stored",
		zap.String("cache_key", key),
		zap.Bool("complete", result.Complete),
		zap.String("compression", algorithm),
		zap.Int("raw_bytes", len(result.HTML)),
		zap.Int("stored_bytes", len(body)),
		zap.Duration("ttl", ttl))

	return nil
}

// Delete removes both halves of an entry. Best effort.
func (h *HotCache) Delete(ctx context.Context, key string) {
	if err := h.redis.Del(ctx, redis.PageKey(key), redis.MetadataKey(key)); err != nil {
		h.logger.Warn("Failed to delete HotCache entry",
			zap.String("cache_key", key),
			zap.Error(err))
	}
}
