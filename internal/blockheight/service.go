// Package blockheight tracks the chain tip height per network and caches
// block timestamps decoded from raw headers, so the pipeline's confirmation
// math never issues a redundant header fetch for a height it has already
// resolved (§4.13).
package blockheight

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Fantasim/btcwalletsync/internal/config"
	"github.com/Fantasim/btcwalletsync/internal/nodeclient"
)

// Service caches the current tip height and recently resolved block
// timestamps for one network's node client.
type Service struct {
	client nodeclient.Client

	mu     sync.RWMutex
	height int64

	timestamps *lru.Cache[int64, time.Time]
}

// New creates a height/timestamp service backed by client.
func New(client nodeclient.Client) (*Service, error) {
	cache, err := lru.New[int64, time.Time](config.BlockTimestampLRUCapacity)
	if err != nil {
		return nil, fmt.Errorf("create block timestamp cache: %w", err)
	}
	return &Service{client: client, timestamps: cache}, nil
}

// Height returns the last height observed by Refresh, without calling the
// node.
func (s *Service) Height() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// Refresh polls the node for the current tip height and advances the
// cached value monotonically: a stale or reorg-rolled-back response from
// the node never moves the cache backwards.
func (s *Service) Refresh(ctx context.Context) (int64, error) {
	height, err := s.client.GetBlockHeight(ctx)
	if err != nil {
		s.mu.RLock()
		cached := s.height
		s.mu.RUnlock()
		if cached > 0 {
			return cached, nil
		}
		return 0, fmt.Errorf("refresh block height: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if height > s.height {
		s.height = height
	}
	return s.height, nil
}

// Confirmations computes confirmations for a transaction mined at
// blockHeight, given the cached tip. Returns 0 if blockHeight is above the
// known tip (can happen transiently during a refresh race).
func (s *Service) Confirmations(blockHeight int64) int64 {
	tip := s.Height()
	if blockHeight <= 0 || blockHeight > tip {
		return 0
	}
	return tip - blockHeight + 1
}

// TimestampForHeight resolves the unix timestamp of a block, consulting the
// LRU cache before asking the node for the raw header.
func (s *Service) TimestampForHeight(ctx context.Context, height int64) (time.Time, error) {
	if t, ok := s.timestamps.Get(height); ok {
		return t, nil
	}

	headerHex, err := s.client.GetBlockHeader(ctx, height)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch header for height %d: %w", height, err)
	}

	t, err := ParseHeaderTimestamp(headerHex)
	if err != nil {
		return time.Time{}, err
	}

	s.timestamps.Add(height, t)
	return t, nil
}

// ParseHeaderTimestamp decodes the 4-byte little-endian unix timestamp
// embedded at bytes 68-71 of an 80-byte Bitcoin block header (§6).
func ParseHeaderTimestamp(headerHex string) (time.Time, error) {
	raw, err := hex.DecodeString(headerHex)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode block header hex: %w", err)
	}
	if len(raw) < config.BlockHeaderTimestampTo {
		return time.Time{}, fmt.Errorf("block header too short: got %d bytes, want at least %d", len(raw), config.BlockHeaderTimestampTo)
	}

	secs := binary.LittleEndian.Uint32(raw[config.BlockHeaderTimestampFrom:config.BlockHeaderTimestampTo])
	return time.Unix(int64(secs), 0).UTC(), nil
}
